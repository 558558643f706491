package ml

import (
	"fmt"
	"math"
)

type Loss string

const (
	MeanSquaredError   Loss = "mse"
	BinaryCrossEntropy Loss = "binary_crossentropy"
)

const lossEpsilon = 1e-7

// Value is the per-sample loss.
func (l Loss) Value(pred, label float64) float64 {
	switch l {
	case BinaryCrossEntropy:
		p := math.Min(math.Max(pred, lossEpsilon), 1-lossEpsilon)
		return -(label*math.Log(p) + (1-label)*math.Log(1-p))
	}
	d := pred - label
	return d * d
}

// outputDelta is dLoss/dz for the output unit.
func (l Loss) outputDelta(act Activation, z, pred, label float64) (float64, error) {
	switch l {
	case MeanSquaredError:
		return 2 * (pred - label) * act.derivative(z, pred), nil
	case BinaryCrossEntropy:
		if act != Sigmoid {
			return 0, fmt.Errorf("binary cross-entropy needs a sigmoid output, got %s", act)
		}
		return pred - label, nil
	}
	return 0, fmt.Errorf("unknown loss %q", l)
}

// Mean is the average loss over a set of predictions.
func (l Loss) Mean(preds, labels []float64) float64 {
	if len(preds) == 0 {
		return 0
	}
	var sum float64
	for i, p := range preds {
		sum += l.Value(p, labels[i])
	}
	return sum / float64(len(preds))
}
