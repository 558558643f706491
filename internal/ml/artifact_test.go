package ml

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credchain-risk/internal/models"
)

func testArtifact(t *testing.T, typ models.ModelType) *Artifact {
	t.Helper()
	n, err := NewNetwork(3, []LayerSpec{{Units: 2, Activation: ReLU}, {Units: 1, Activation: Sigmoid}}, 1)
	require.NoError(t, err)
	return &Artifact{
		Name:          "credit-score",
		Version:       "v1",
		Type:          typ,
		CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Normalization: DefaultNormalization(),
		Network:       n,
	}
}

func TestSaveAndLoadArtifact(t *testing.T) {
	root := t.TempDir()
	a := testArtifact(t, models.ModelTypeCredit)
	dir := ArtifactDir(root, models.ModelTypeCredit, a.CreatedAt)
	assert.Equal(t, filepath.Join(root, "credit-1704164645000"), dir)

	path, err := SaveArtifact(dir, a)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ArtifactFile), path)

	for _, p := range []string{path, dir} {
		loaded, err := LoadArtifact(p)
		require.NoError(t, err)
		assert.Equal(t, a.Version, loaded.Version)
		assert.Equal(t, 3, loaded.InputSize())

		x := []float64{0.1, 0.2, 0.3}
		want, _ := a.Network.Predict(x)
		got, _ := loaded.Network.Predict(x)
		assert.Equal(t, want, got)
	}
}

func TestSaveArtifactRejectsInvalid(t *testing.T) {
	a := testArtifact(t, "regression")
	_, err := SaveArtifact(t.TempDir(), a)
	assert.Error(t, err)

	a = testArtifact(t, models.ModelTypeFraud)
	a.Normalization = Normalization{}
	_, err = SaveArtifact(t.TempDir(), a)
	assert.Error(t, err)
}

func TestLoadArtifactErrors(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), ArtifactFile)
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":"credit","network":{"inputSize":2}}`), 0o644))
	_, err = LoadArtifact(bad)
	assert.Error(t, err)
}

func TestLatestArtifact(t *testing.T) {
	root := t.TempDir()
	for _, ms := range []int64{1000, 3000, 2000} {
		_, err := SaveArtifact(ArtifactDir(root, models.ModelTypeCredit, time.UnixMilli(ms)), testArtifact(t, models.ModelTypeCredit))
		require.NoError(t, err)
	}
	_, err := SaveArtifact(ArtifactDir(root, models.ModelTypeFraud, time.UnixMilli(9000)), testArtifact(t, models.ModelTypeFraud))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "credit-9999"), 0o755))

	latest, err := LatestArtifact(root, models.ModelTypeCredit)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "credit-3000"), latest)

	resolved, err := ResolveArtifact(root, models.ModelTypeFraud)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "fraud-9000"), resolved)

	_, err = LatestArtifact(t.TempDir(), models.ModelTypeCredit)
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestNormalization(t *testing.T) {
	n := DefaultNormalization()

	assert.Equal(t, []float64{0, 0.5, 1, 1.5, -0.1}, n.Apply([]float64{0, 50, 100, 150, -10}))
	assert.False(t, Normalization{Min: 1, Max: 1}.Valid())
}
