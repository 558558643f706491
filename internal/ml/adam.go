package ml

import "math"

// Adam keeps first and second moment estimates per parameter.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
	mW   [][][]float64
	vW   [][][]float64
	mB   [][]float64
	vB   [][]float64
}

func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

func (a *Adam) init(n *Network) {
	a.mW = make([][][]float64, len(n.Layers))
	a.vW = make([][][]float64, len(n.Layers))
	a.mB = make([][]float64, len(n.Layers))
	a.vB = make([][]float64, len(n.Layers))
	for i, l := range n.Layers {
		a.mW[i] = zerosLike(l.Weights)
		a.vW[i] = zerosLike(l.Weights)
		a.mB[i] = make([]float64, len(l.Biases))
		a.vB[i] = make([]float64, len(l.Biases))
	}
}

// Step applies one update from averaged gradients.
func (a *Adam) Step(n *Network, g *gradients) {
	if a.mW == nil {
		a.init(n)
	}
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for i, l := range n.Layers {
		for o, row := range l.Weights {
			for j := range row {
				row[j] -= a.update(&a.mW[i][o][j], &a.vW[i][o][j], g.w[i][o][j], c1, c2)
			}
			l.Biases[o] -= a.update(&a.mB[i][o], &a.vB[i][o], g.b[i][o], c1, c2)
		}
	}
}

func (a *Adam) update(m, v *float64, grad, c1, c2 float64) float64 {
	*m = a.Beta1**m + (1-a.Beta1)*grad
	*v = a.Beta2**v + (1-a.Beta2)*grad*grad
	return a.LearningRate * (*m / c1) / (math.Sqrt(*v/c2) + a.Epsilon)
}

func zerosLike(w [][]float64) [][]float64 {
	z := make([][]float64, len(w))
	for i, row := range w {
		z[i] = make([]float64, len(row))
	}
	return z
}
