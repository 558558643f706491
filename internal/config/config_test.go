package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credchain-risk/internal/training"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, HistoryNone, cfg.Stores.HistorySource)
	assert.Equal(t, 0.7, cfg.Serving.FraudThreshold)
	assert.Equal(t, "models", cfg.Serving.ModelDir)
	assert.Equal(t, "models", cfg.Training.OutputDir)
	assert.True(t, cfg.Scoring.Credit.Weights.Sum().Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 5*time.Minute, cfg.Scoring.CacheTTL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("FRAUD_THRESHOLD", "0.8")
	t.Setenv("SUSPICIOUS_COUNTRIES", "KP, IR ,")
	t.Setenv("CREDIT_WEIGHTS", "0.4,0.25,0.15,0.1,0.1")
	t.Setenv("DATABASE_URL", "postgres://localhost/credchain")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 0.8, cfg.Scoring.Fraud.Threshold)
	assert.Equal(t, 0.8, cfg.Serving.FraudThreshold)
	assert.Equal(t, []string{"KP", "IR"}, cfg.Scoring.Features.SuspiciousCountries)
	assert.Equal(t, HistoryPostgres, cfg.Stores.HistorySource)
	assert.Equal(t, "0.4", cfg.Scoring.Credit.Weights.PaymentHistory.String())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"weights off by one cent", map[string]string{"CREDIT_WEIGHTS": "0.35,0.30,0.15,0.10,0.11"}},
		{"wrong weight count", map[string]string{"ENSEMBLE_WEIGHTS": "0.5,0.5"}},
		{"ensemble sum", map[string]string{"ENSEMBLE_WEIGHTS": "0.4,0.4,0.3"}},
		{"bad number", map[string]string{"FRAUD_THRESHOLD": "high"}},
		{"bad duration", map[string]string{"SCORE_CACHE_TTL": "soon"}},
		{"stripe without key", map[string]string{"HISTORY_SOURCE": "stripe"}},
		{"unknown source", map[string]string{"HISTORY_SOURCE": "ledger"}},
		{"unknown scale", map[string]string{"CREDIT_SCALE": "fico"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadTrainingOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochs: 20\nlearningRate: 0.01\nseed: 7\n"), 0o644))

	cfg, err := LoadTrainingOverrides(path, training.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Epochs)
	assert.Equal(t, 0.01, cfg.LearningRate)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 32, cfg.BatchSize)

	require.NoError(t, os.WriteFile(path, []byte("splitRatio: 1.5\n"), 0o644))
	_, err = LoadTrainingOverrides(path, training.DefaultConfig())
	assert.Error(t, err)
}
