// Package ml implements the small feed-forward networks used by the
// credit and fraud estimators, their training loop and artifact files.
package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

type Activation string

const (
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
	Linear  Activation = "linear"
)

func (a Activation) apply(z float64) float64 {
	switch a {
	case ReLU:
		if z > 0 {
			return z
		}
		return 0
	case Sigmoid:
		return 1 / (1 + math.Exp(-z))
	}
	return z
}

// derivative in terms of the pre-activation z and the activation out.
func (a Activation) derivative(z, out float64) float64 {
	switch a {
	case ReLU:
		if z > 0 {
			return 1
		}
		return 0
	case Sigmoid:
		return out * (1 - out)
	}
	return 1
}

func (a Activation) valid() bool {
	return a == ReLU || a == Sigmoid || a == Linear
}

type LayerSpec struct {
	Units      int
	Activation Activation
	L2         float64
	// Dropout is applied to this layer's output while training.
	Dropout float64
}

// CreditArchitecture is the regressor shape: 128-64-32 relu, sigmoid output.
func CreditArchitecture() []LayerSpec {
	return []LayerSpec{
		{Units: 128, Activation: ReLU, L2: 0.001, Dropout: 0.3},
		{Units: 64, Activation: ReLU, L2: 0.001, Dropout: 0.2},
		{Units: 32, Activation: ReLU, L2: 0.001},
		{Units: 1, Activation: Sigmoid},
	}
}

// FraudArchitecture is the classifier shape, with heavier dropout.
func FraudArchitecture() []LayerSpec {
	return []LayerSpec{
		{Units: 128, Activation: ReLU, L2: 0.001, Dropout: 0.4},
		{Units: 64, Activation: ReLU, L2: 0.001, Dropout: 0.3},
		{Units: 32, Activation: ReLU, L2: 0.001},
		{Units: 1, Activation: Sigmoid},
	}
}

// Dense is a fully connected layer. Weights are indexed [out][in].
type Dense struct {
	Weights    [][]float64 `json:"weights"`
	Biases     []float64   `json:"biases"`
	Activation Activation  `json:"activation"`
	L2         float64     `json:"l2,omitempty"`
	Dropout    float64     `json:"dropout,omitempty"`
}

func (d *Dense) inputs() int  { return len(d.Weights[0]) }
func (d *Dense) outputs() int { return len(d.Weights) }

type Network struct {
	InputSize int      `json:"inputSize"`
	Layers    []*Dense `json:"layers"`
}

// NewNetwork builds a network with Glorot-uniform weights and zero biases.
func NewNetwork(inputSize int, specs []LayerSpec, seed int64) (*Network, error) {
	if inputSize <= 0 {
		return nil, fmt.Errorf("input size must be positive, got %d", inputSize)
	}
	if len(specs) == 0 {
		return nil, errors.New("network needs at least one layer")
	}

	rng := rand.New(rand.NewSource(seed))
	n := &Network{InputSize: inputSize}
	in := inputSize
	for i, spec := range specs {
		if spec.Units <= 0 {
			return nil, fmt.Errorf("layer %d: units must be positive", i)
		}
		if !spec.Activation.valid() {
			return nil, fmt.Errorf("layer %d: unknown activation %q", i, spec.Activation)
		}
		if spec.Dropout < 0 || spec.Dropout >= 1 {
			return nil, fmt.Errorf("layer %d: dropout must be in [0,1)", i)
		}

		limit := math.Sqrt(6 / float64(in+spec.Units))
		layer := &Dense{
			Weights:    make([][]float64, spec.Units),
			Biases:     make([]float64, spec.Units),
			Activation: spec.Activation,
			L2:         spec.L2,
			Dropout:    spec.Dropout,
		}
		for o := range layer.Weights {
			row := make([]float64, in)
			for j := range row {
				row[j] = (rng.Float64()*2 - 1) * limit
			}
			layer.Weights[o] = row
		}
		n.Layers = append(n.Layers, layer)
		in = spec.Units
	}
	return n, nil
}

// Validate checks that layer shapes chain from the input to one output.
func (n *Network) Validate() error {
	if n == nil || len(n.Layers) == 0 {
		return errors.New("network has no layers")
	}
	in := n.InputSize
	for i, l := range n.Layers {
		if len(l.Weights) == 0 || len(l.Weights) != len(l.Biases) {
			return fmt.Errorf("layer %d: %d weight rows for %d biases", i, len(l.Weights), len(l.Biases))
		}
		for o, row := range l.Weights {
			if len(row) != in {
				return fmt.Errorf("layer %d row %d: %d inputs, want %d", i, o, len(row), in)
			}
		}
		if !l.Activation.valid() {
			return fmt.Errorf("layer %d: unknown activation %q", i, l.Activation)
		}
		in = l.outputs()
	}
	if in != 1 {
		return fmt.Errorf("network has %d outputs, want 1", in)
	}
	return nil
}

// Predict runs inference on one normalized input row. Dropout is inactive.
func (n *Network) Predict(x []float64) (float64, error) {
	if len(x) != n.InputSize {
		return 0, fmt.Errorf("expected %d inputs, got %d", n.InputSize, len(x))
	}
	a := x
	for _, l := range n.Layers {
		next := make([]float64, l.outputs())
		for o, row := range l.Weights {
			z := l.Biases[o]
			for j, w := range row {
				z += w * a[j]
			}
			next[o] = l.Activation.apply(z)
		}
		a = next
	}
	return a[0], nil
}

// PredictBatch runs Predict over every row.
func (n *Network) PredictBatch(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, x := range rows {
		p, err := n.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// Clone returns a deep copy.
func (n *Network) Clone() *Network {
	c := &Network{InputSize: n.InputSize, Layers: make([]*Dense, len(n.Layers))}
	for i, l := range n.Layers {
		cl := *l
		cl.Weights = make([][]float64, len(l.Weights))
		for o, row := range l.Weights {
			cl.Weights[o] = append([]float64(nil), row...)
		}
		cl.Biases = append([]float64(nil), l.Biases...)
		c.Layers[i] = &cl
	}
	return c
}

// ParamCount is the number of trainable values.
func (n *Network) ParamCount() int {
	total := 0
	for _, l := range n.Layers {
		total += l.outputs()*l.inputs() + l.outputs()
	}
	return total
}
