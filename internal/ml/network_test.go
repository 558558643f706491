package ml

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNetworkShapes(t *testing.T) {
	n, err := NewNetwork(10, CreditArchitecture(), 42)
	require.NoError(t, err)

	require.NoError(t, n.Validate())
	assert.Len(t, n.Layers, 4)
	assert.Equal(t, 10*128+128+128*64+64+64*32+32+32+1, n.ParamCount())
	assert.Equal(t, 0.3, n.Layers[0].Dropout)

	f, err := NewNetwork(15, FraudArchitecture(), 42)
	require.NoError(t, err)
	assert.Equal(t, 0.4, f.Layers[0].Dropout)
	assert.Equal(t, 0.3, f.Layers[1].Dropout)
}

func TestNewNetworkSeeded(t *testing.T) {
	a, err := NewNetwork(4, CreditArchitecture(), 7)
	require.NoError(t, err)
	b, err := NewNetwork(4, CreditArchitecture(), 7)
	require.NoError(t, err)
	c, err := NewNetwork(4, CreditArchitecture(), 8)
	require.NoError(t, err)

	assert.Equal(t, a.Layers[0].Weights, b.Layers[0].Weights)
	assert.NotEqual(t, a.Layers[0].Weights, c.Layers[0].Weights)
}

func TestNewNetworkRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name  string
		input int
		specs []LayerSpec
	}{
		{"no input", 0, CreditArchitecture()},
		{"no layers", 3, nil},
		{"zero units", 3, []LayerSpec{{Units: 0, Activation: ReLU}}},
		{"bad activation", 3, []LayerSpec{{Units: 1, Activation: "tanh"}}},
		{"bad dropout", 3, []LayerSpec{{Units: 1, Activation: Sigmoid, Dropout: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNetwork(tt.input, tt.specs, 1)
			assert.Error(t, err)
		})
	}
}

func TestValidateRejectsMultipleOutputs(t *testing.T) {
	n, err := NewNetwork(3, []LayerSpec{{Units: 2, Activation: Sigmoid}}, 1)
	require.NoError(t, err)

	assert.Error(t, n.Validate())
}

func TestPredict(t *testing.T) {
	n, err := NewNetwork(3, CreditArchitecture(), 1)
	require.NoError(t, err)

	p, err := n.Predict([]float64{0.1, 0.5, 0.9})
	require.NoError(t, err)
	assert.Greater(t, p, 0.0)
	assert.Less(t, p, 1.0)

	again, err := n.Predict([]float64{0.1, 0.5, 0.9})
	require.NoError(t, err)
	assert.Equal(t, p, again, "inference must not apply dropout")

	_, err = n.Predict([]float64{1})
	assert.Error(t, err)
}

// sampleLoss runs inference and returns the loss of one sample.
func sampleLoss(t *testing.T, n *Network, x []float64, y float64, loss Loss) float64 {
	t.Helper()
	p, err := n.Predict(x)
	require.NoError(t, err)
	return loss.Value(p, y)
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	for _, loss := range []Loss{MeanSquaredError, BinaryCrossEntropy} {
		t.Run(string(loss), func(t *testing.T) {
			n, err := NewNetwork(3, []LayerSpec{
				{Units: 4, Activation: ReLU},
				{Units: 3, Activation: Sigmoid},
				{Units: 1, Activation: Sigmoid},
			}, 3)
			require.NoError(t, err)
			x := []float64{0.2, 0.7, 0.4}
			y := 1.0

			g := newGradients(n)
			tr := n.forwardTrain(x, rand.New(rand.NewSource(1)))
			require.NoError(t, n.backward(tr, y, loss, g))

			const h = 1e-6
			for i, l := range n.Layers {
				for o, row := range l.Weights {
					for j := range row {
						orig := row[j]
						row[j] = orig + h
						up := sampleLoss(t, n, x, y, loss)
						row[j] = orig - h
						down := sampleLoss(t, n, x, y, loss)
						row[j] = orig

						numeric := (up - down) / (2 * h)
						assert.InDelta(t, numeric, g.w[i][o][j], 1e-5, "layer %d w[%d][%d]", i, o, j)
					}
					orig := l.Biases[o]
					l.Biases[o] = orig + h
					up := sampleLoss(t, n, x, y, loss)
					l.Biases[o] = orig - h
					down := sampleLoss(t, n, x, y, loss)
					l.Biases[o] = orig
					assert.InDelta(t, (up-down)/(2*h), g.b[i][o], 1e-5, "layer %d b[%d]", i, o)
				}
			}
		})
	}
}

func thresholdDataset(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{rng.Float64(), rng.Float64()}
		if x[i][0] > 0.5 {
			y[i] = 1
		}
	}
	return x, y
}

func TestFitLearnsThreshold(t *testing.T) {
	n, err := NewNetwork(2, []LayerSpec{
		{Units: 8, Activation: ReLU},
		{Units: 1, Activation: Sigmoid},
	}, 11)
	require.NoError(t, err)
	x, y := thresholdDataset(200, 5)

	var epochs int
	history, err := n.Fit(x, y, nil, nil, FitConfig{
		Epochs:       150,
		BatchSize:    16,
		LearningRate: 0.05,
		Loss:         BinaryCrossEntropy,
		Seed:         1,
		OnEpoch:      func(EpochStats) { epochs++ },
	})
	require.NoError(t, err)
	require.Len(t, history, 150)
	assert.Equal(t, 150, epochs)
	assert.Less(t, history[len(history)-1].Loss, history[0].Loss)

	correct := 0
	for i, row := range x {
		p, err := n.Predict(row)
		require.NoError(t, err)
		if (p > 0.5) == (y[i] == 1) {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(len(x)), 0.9)
}

func TestFitIsDeterministic(t *testing.T) {
	x, y := thresholdDataset(40, 2)
	run := func() []float64 {
		n, err := NewNetwork(2, CreditArchitecture(), 3)
		require.NoError(t, err)
		_, err = n.Fit(x, y, nil, nil, FitConfig{Epochs: 3, BatchSize: 8, LearningRate: 0.001, Loss: MeanSquaredError, Seed: 9})
		require.NoError(t, err)
		out, err := n.PredictBatch(x)
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, run(), run())
}

func TestFitEarlyStopping(t *testing.T) {
	x, y := thresholdDataset(60, 4)
	n, err := NewNetwork(2, []LayerSpec{{Units: 4, Activation: ReLU}, {Units: 1, Activation: Sigmoid}}, 2)
	require.NoError(t, err)

	// inverted validation labels get worse as the training fit improves
	valY := make([]float64, 20)
	for i, v := range y[40:] {
		valY[i] = 1 - v
	}
	history, err := n.Fit(x[:40], y[:40], x[40:], valY, FitConfig{
		Epochs: 200, BatchSize: 8, LearningRate: 0.05, Loss: BinaryCrossEntropy, Seed: 1, Patience: 2,
	})
	require.NoError(t, err)
	assert.Less(t, len(history), 200)

	best := math.Inf(1)
	for _, h := range history {
		best = math.Min(best, h.ValLoss)
	}
	preds, err := n.PredictBatch(x[40:])
	require.NoError(t, err)
	assert.InDelta(t, best, BinaryCrossEntropy.Mean(preds, valY), 1e-12, "best weights restored")
}

func TestFitRejectsBadInput(t *testing.T) {
	n, err := NewNetwork(2, []LayerSpec{{Units: 1, Activation: Linear}}, 1)
	require.NoError(t, err)
	ok := FitConfig{Epochs: 1, LearningRate: 0.1, Loss: MeanSquaredError}

	_, err = n.Fit(nil, nil, nil, nil, ok)
	assert.Error(t, err)

	_, err = n.Fit([][]float64{{1, 2}}, []float64{1, 0}, nil, nil, ok)
	assert.Error(t, err)

	_, err = n.Fit([][]float64{{1}}, []float64{1}, nil, nil, ok)
	assert.Error(t, err)

	bce := ok
	bce.Loss = BinaryCrossEntropy
	_, err = n.Fit([][]float64{{1, 2}}, []float64{1}, nil, nil, bce)
	assert.Error(t, err, "cross-entropy needs a sigmoid output")

	_, err = n.Fit([][]float64{{1, 2}}, []float64{1}, nil, nil, FitConfig{Epochs: 0, LearningRate: 0.1})
	assert.Error(t, err)
}

func TestLossValues(t *testing.T) {
	assert.InDelta(t, 0.04, MeanSquaredError.Value(0.8, 1), 1e-12)
	assert.InDelta(t, -math.Log(0.8), BinaryCrossEntropy.Value(0.8, 1), 1e-12)
	assert.False(t, math.IsInf(BinaryCrossEntropy.Value(0, 1), 0))
	assert.Equal(t, 0.0, MeanSquaredError.Mean(nil, nil))
}
