package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

type FitConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Loss         Loss
	Seed         int64
	// Patience stops training after that many epochs without a validation
	// improvement and restores the best weights. Zero disables it.
	Patience int
	OnEpoch  func(EpochStats)
}

type EpochStats struct {
	Epoch   int     `json:"epoch"`
	Loss    float64 `json:"loss"`
	ValLoss float64 `json:"valLoss"`
}

type gradients struct {
	w [][][]float64
	b [][]float64
}

func newGradients(n *Network) *gradients {
	g := &gradients{w: make([][][]float64, len(n.Layers)), b: make([][]float64, len(n.Layers))}
	for i, l := range n.Layers {
		g.w[i] = zerosLike(l.Weights)
		g.b[i] = make([]float64, len(l.Biases))
	}
	return g
}

func (g *gradients) reset() {
	for i := range g.w {
		for o := range g.w[i] {
			clear(g.w[i][o])
		}
		clear(g.b[i])
	}
}

// trace keeps the per-layer values of one training forward pass.
type trace struct {
	acts  [][]float64 // acts[0] is the input, acts[i+1] the output of layer i
	pre   [][]float64
	masks [][]float64
}

func (n *Network) forwardTrain(x []float64, rng *rand.Rand) trace {
	t := trace{
		acts:  make([][]float64, len(n.Layers)+1),
		pre:   make([][]float64, len(n.Layers)),
		masks: make([][]float64, len(n.Layers)),
	}
	t.acts[0] = x
	for i, l := range n.Layers {
		in := t.acts[i]
		z := make([]float64, l.outputs())
		out := make([]float64, l.outputs())
		for o, row := range l.Weights {
			s := l.Biases[o]
			for j, w := range row {
				s += w * in[j]
			}
			z[o] = s
			out[o] = l.Activation.apply(s)
		}
		if l.Dropout > 0 {
			// inverted dropout keeps the expected activation unchanged
			mask := make([]float64, len(out))
			keep := 1 - l.Dropout
			for o := range out {
				if rng.Float64() < keep {
					mask[o] = 1 / keep
				}
				out[o] *= mask[o]
			}
			t.masks[i] = mask
		}
		t.pre[i] = z
		t.acts[i+1] = out
	}
	return t
}

// backward accumulates the gradients of one sample into g.
func (n *Network) backward(t trace, label float64, loss Loss, g *gradients) error {
	last := len(n.Layers) - 1
	out := n.Layers[last]
	pred := t.acts[last+1][0]
	d, err := loss.outputDelta(out.Activation, t.pre[last][0], pred, label)
	if err != nil {
		return err
	}
	delta := []float64{d}

	for i := last; i >= 0; i-- {
		l := n.Layers[i]
		in := t.acts[i]
		for o, row := range l.Weights {
			gw := g.w[i][o]
			for j := range row {
				gw[j] += delta[o] * in[j]
			}
			g.b[i][o] += delta[o]
		}
		if i == 0 {
			break
		}

		prev := n.Layers[i-1]
		next := make([]float64, prev.outputs())
		for j := range next {
			var s float64
			for o, row := range l.Weights {
				s += row[j] * delta[o]
			}
			raw := prev.Activation.apply(t.pre[i-1][j])
			s *= prev.Activation.derivative(t.pre[i-1][j], raw)
			if t.masks[i-1] != nil {
				s *= t.masks[i-1][j]
			}
			next[j] = s
		}
		delta = next
	}
	return nil
}

// Fit trains the network with mini-batch Adam. Rows must already be
// normalized. Validation rows may be empty.
func (n *Network) Fit(x [][]float64, y []float64, valX [][]float64, valY []float64, cfg FitConfig) ([]EpochStats, error) {
	if len(x) == 0 {
		return nil, errors.New("no training samples")
	}
	if len(x) != len(y) || len(valX) != len(valY) {
		return nil, errors.New("features and labels differ in length")
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", cfg.LearningRate)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	for i, row := range x {
		if len(row) != n.InputSize {
			return nil, fmt.Errorf("row %d: expected %d features, got %d", i, n.InputSize, len(row))
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	opt := NewAdam(cfg.LearningRate)
	grads := newGradients(n)
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}

	var (
		history []EpochStats
		best    *Network
		bestVal = math.Inf(1)
		stale   int
	)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			grads.reset()
			for _, idx := range order[start:end] {
				t := n.forwardTrain(x[idx], rng)
				if err := n.backward(t, y[idx], cfg.Loss, grads); err != nil {
					return history, err
				}
			}
			n.finishGradients(grads, float64(end-start))
			opt.Step(n, grads)
		}

		stats, err := n.epochStats(epoch, x, y, valX, valY, cfg.Loss)
		if err != nil {
			return history, err
		}
		if math.IsNaN(stats.Loss) || math.IsInf(stats.Loss, 0) {
			return history, fmt.Errorf("epoch %d: loss diverged", epoch)
		}
		history = append(history, stats)
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(stats)
		}

		if cfg.Patience > 0 && len(valX) > 0 {
			if stats.ValLoss < bestVal {
				bestVal, stale, best = stats.ValLoss, 0, n.Clone()
			} else {
				stale++
				if stale >= cfg.Patience {
					break
				}
			}
		}
	}

	if best != nil {
		n.Layers = best.Layers
	}
	return history, nil
}

// finishGradients averages over the batch and adds the L2 penalty gradient.
func (n *Network) finishGradients(g *gradients, batch float64) {
	for i, l := range n.Layers {
		for o, row := range l.Weights {
			for j, w := range row {
				g.w[i][o][j] = g.w[i][o][j]/batch + 2*l.L2*w
			}
			g.b[i][o] /= batch
		}
	}
}

func (n *Network) epochStats(epoch int, x [][]float64, y []float64, valX [][]float64, valY []float64, loss Loss) (EpochStats, error) {
	preds, err := n.PredictBatch(x)
	if err != nil {
		return EpochStats{}, err
	}
	stats := EpochStats{Epoch: epoch, Loss: loss.Mean(preds, y)}
	if len(valX) > 0 {
		valPreds, err := n.PredictBatch(valX)
		if err != nil {
			return EpochStats{}, err
		}
		stats.ValLoss = loss.Mean(valPreds, valY)
	}
	return stats, nil
}
