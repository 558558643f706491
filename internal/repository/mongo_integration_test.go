//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.uber.org/zap"

	"credchain-risk/internal/models"
)

func startMongo(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	return uri
}

func TestTrainingRunRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := NewTrainingRunRepository(ctx, startMongo(t), "credchain_test", 30*time.Second, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(context.Background()) })

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, repo.RecordRun(ctx, &models.TrainingRun{
			ID:         id,
			ModelName:  "fraud-detection",
			Type:       models.ModelTypeFraud,
			Status:     models.TrainingStatusSucceeded,
			Samples:    100 * (i + 1),
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}
	require.NoError(t, repo.RecordRun(ctx, &models.TrainingRun{
		ID:        "other",
		ModelName: "credit-score",
		Type:      models.ModelTypeCredit,
		Status:    models.TrainingStatusFailed,
		StartedAt: base.Add(10 * time.Hour),
	}))

	runs, err := repo.Recent(ctx, "fraud-detection", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)
	assert.Equal(t, 300, runs[0].Samples)
	assert.True(t, runs[0].StartedAt.Equal(base.Add(2*time.Hour)))

	// _id is unique
	err = repo.RecordRun(ctx, &models.TrainingRun{ID: "run-1", ModelName: "fraud-detection"})
	assert.Error(t, err)
}
