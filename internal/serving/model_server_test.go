package serving

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"credchain-risk/internal/estimator"
	"credchain-risk/internal/ml"
	"credchain-risk/internal/models"
)

func writeArtifact(t *testing.T, root string, typ models.ModelType, version string, seed int64) string {
	t.Helper()
	n, err := ml.NewNetwork(3, []ml.LayerSpec{
		{Units: 4, Activation: ml.ReLU},
		{Units: 1, Activation: ml.Sigmoid},
	}, seed)
	require.NoError(t, err)

	a := &ml.Artifact{
		Name:          string(typ),
		Version:       version,
		Type:          typ,
		CreatedAt:     time.Now(),
		Normalization: ml.DefaultNormalization(),
		Network:       n,
	}
	dir := filepath.Join(root, version)
	_, err = ml.SaveArtifact(dir, a)
	require.NoError(t, err)
	return dir
}

func newTestServer(t *testing.T) *ModelServer {
	t.Helper()
	s := NewModelServer(DefaultConfig(), nil, nil, zap.NewNop())
	t.Cleanup(s.Close)
	return s
}

func TestLoadModelAndPredict(t *testing.T) {
	s := newTestServer(t)
	dir := writeArtifact(t, t.TempDir(), models.ModelTypeCredit, "v1", 1)

	require.NoError(t, s.LoadModel("credit-score", dir, models.ModelTypeCredit))
	assert.True(t, s.IsModelReady("credit-score"))

	info, ok := s.GetModel("credit-score")
	require.True(t, ok)
	assert.Equal(t, "v1", info.Version)
	assert.Equal(t, 3, info.InputSize)

	p, err := s.PredictCredit([]float64{50, 20, 80})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Score, 0)
	assert.LessOrEqual(t, p.Score, 1000)
	assert.Equal(t, models.ScaleModel, p.Scale)
	assert.GreaterOrEqual(t, p.Confidence, 0.1)
	assert.LessOrEqual(t, p.Confidence, 0.8)
}

func TestLoadModelFailureMarksError(t *testing.T) {
	s := newTestServer(t)

	err := s.LoadModel("credit-score", filepath.Join(t.TempDir(), "missing"), models.ModelTypeCredit)
	require.Error(t, err)

	info, ok := s.GetModel("credit-score")
	require.True(t, ok)
	assert.Equal(t, models.ModelStatusError, info.Status)
	assert.NotEmpty(t, info.Error)

	_, err = s.PredictCredit([]float64{1, 2, 3})
	assert.True(t, models.IsModelNotReady(err))
}

func TestLoadModelRejectsWrongType(t *testing.T) {
	s := newTestServer(t)
	dir := writeArtifact(t, t.TempDir(), models.ModelTypeFraud, "v1", 1)

	err := s.LoadModel("credit-score", dir, models.ModelTypeCredit)
	assert.Error(t, err)
	assert.False(t, s.IsModelReady("credit-score"))
}

func TestLoadModelTwiceRequiresReload(t *testing.T) {
	s := newTestServer(t)
	dir := writeArtifact(t, t.TempDir(), models.ModelTypeCredit, "v1", 1)

	require.NoError(t, s.LoadModel("credit-score", dir, models.ModelTypeCredit))
	assert.Error(t, s.LoadModel("credit-score", dir, models.ModelTypeCredit))
}

func TestPredictValidation(t *testing.T) {
	s := newTestServer(t)
	dir := writeArtifact(t, t.TempDir(), models.ModelTypeFraud, "v1", 1)
	require.NoError(t, s.LoadModel("fraud-detection", dir, models.ModelTypeFraud))

	tests := []struct {
		name     string
		features []float64
	}{
		{"empty", nil},
		{"wrong width", []float64{1, 2}},
		{"not finite", []float64{1, 2, nan()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.PredictFraud(tt.features)
			assert.True(t, models.IsInputError(err), "got %v", err)
		})
	}

	_, err := s.Predict("unknown", []float64{1, 2, 3})
	assert.True(t, models.IsModelNotReady(err))
}

func TestPredictFraudThreshold(t *testing.T) {
	s := newTestServer(t)
	dir := writeArtifact(t, t.TempDir(), models.ModelTypeFraud, "v1", 3)
	require.NoError(t, s.LoadModel("fraud-detection", dir, models.ModelTypeFraud))

	p, err := s.PredictFraud([]float64{10, 90, 40})
	require.NoError(t, err)
	assert.Equal(t, p.Probability > 0.7, p.IsFraud)
	assert.Equal(t, models.SeverityFor(p.Probability), p.RiskLevel)
}

func TestReloadModel(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()
	v1 := writeArtifact(t, root, models.ModelTypeCredit, "v1", 1)
	v2 := writeArtifact(t, root, models.ModelTypeCredit, "v2", 2)

	require.NoError(t, s.LoadModel("credit-score", v1, models.ModelTypeCredit))
	require.NoError(t, s.ReloadModel("credit-score", v2))

	info, _ := s.GetModel("credit-score")
	assert.Equal(t, "v2", info.Version)
	assert.Equal(t, v2, info.Path)

	t.Run("failed reload keeps serving", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte("{"), 0o644))
		err := s.ReloadModel("credit-score", filepath.Join(root, "broken.json"))
		require.Error(t, err)

		info, _ := s.GetModel("credit-score")
		assert.Equal(t, models.ModelStatusReady, info.Status)
		assert.Equal(t, "v2", info.Version)

		_, err = s.PredictCredit([]float64{1, 2, 3})
		assert.NoError(t, err)
	})

	t.Run("unknown model", func(t *testing.T) {
		assert.True(t, errors.Is(s.ReloadModel("nope", v1), ErrModelNotFound))
	})
}

func TestReloadDuringPredictions(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()
	paths := []string{
		writeArtifact(t, root, models.ModelTypeCredit, "v1", 1),
		writeArtifact(t, root, models.ModelTypeCredit, "v2", 2),
	}
	require.NoError(t, s.LoadModel("credit-score", paths[0], models.ModelTypeCredit))

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := s.PredictCredit([]float64{10, 20, 30}); err != nil {
					errs <- err
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, s.ReloadModel("credit-score", paths[i%2]))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("prediction failed during reload: %v", err)
	}
}

func TestUnloadModel(t *testing.T) {
	s := newTestServer(t)
	dir := writeArtifact(t, t.TempDir(), models.ModelTypeCredit, "v1", 1)
	require.NoError(t, s.LoadModel("credit-score", dir, models.ModelTypeCredit))

	require.NoError(t, s.UnloadModel("credit-score"))
	assert.False(t, s.IsModelReady("credit-score"))
	assert.Empty(t, s.ListModels())
	assert.True(t, errors.Is(s.UnloadModel("credit-score"), ErrModelNotFound))
}

func TestPredictBatch(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()
	require.NoError(t, s.LoadModel("credit-score", writeArtifact(t, root, models.ModelTypeCredit, "c1", 1), models.ModelTypeCredit))
	require.NoError(t, s.LoadModel("fraud-detection", writeArtifact(t, root, models.ModelTypeFraud, "f1", 2), models.ModelTypeFraud))

	results := s.PredictBatch([]BatchRequest{
		{ID: "a", ModelType: "credit", Features: []float64{1, 2, 3}},
		{ID: "b", ModelType: "fraud-detection", Features: []float64{4, 5, 6}},
		{ID: "c", ModelType: "mortgage", Features: []float64{1, 2, 3}},
		{ID: "d", ModelType: "fraud", Features: []float64{1}},
	})
	require.Len(t, results, 4)

	assert.Equal(t, "ok", results[0].Status)
	assert.NotNil(t, results[0].Credit)
	assert.Equal(t, "ok", results[1].Status)
	assert.NotNil(t, results[1].Fraud)
	assert.Equal(t, "error", results[2].Status)
	assert.Equal(t, "input", results[2].ErrorKind)
	assert.Equal(t, "error", results[3].Status)
	assert.Equal(t, "input", results[3].ErrorKind)
	assert.Equal(t, "d", results[3].ID)
}

func TestVarianceConfidence(t *testing.T) {
	assert.InDelta(t, 0.8, VarianceConfidence([]float64{5, 5, 5}), 1e-12)
	// population std of {0,2} is 1
	assert.InDelta(t, 0.7, VarianceConfidence([]float64{0, 2}), 1e-12)
	assert.InDelta(t, 0.5, VarianceConfidence([]float64{0, 100}), 1e-12)
}

func TestFraudEstimatorFallsBack(t *testing.T) {
	s := newTestServer(t)
	fallback := estimator.Fallback{Primary: s.FraudEstimator(), Secondary: constEstimator(0.25)}

	p, err := fallback.Predict([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.25, p.Value)

	dir := writeArtifact(t, t.TempDir(), models.ModelTypeFraud, "v1", 1)
	require.NoError(t, s.LoadModel("fraud-detection", dir, models.ModelTypeFraud))
	p, err = fallback.Predict([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, p.Fitted)
	assert.NotEqual(t, 0.25, p.Value)
}

type constEstimator float64

func (c constEstimator) Name() string         { return "const" }
func (c constEstimator) Kind() estimator.Kind { return estimator.KindClassification }
func (c constEstimator) Predict([]float64) (estimator.Prediction, error) {
	return estimator.Prediction{Value: float64(c)}, nil
}
func (c constEstimator) Explain([]float64, estimator.Prediction) string { return "" }

func nan() float64 {
	zero := 0.0
	return zero / zero
}
