//go:build integration

package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"credchain-risk/internal/models"
	"credchain-risk/pkg/database"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("credchain_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	conn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewPostgresDBWithRetry(ctx, conn, 30*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.DB
}

func TestPaymentRepositoryHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(startPostgres(t))
	require.NoError(t, repo.Migrate(ctx))

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		paid := base.AddDate(0, i, 0)
		require.NoError(t, repo.Create(ctx, &models.PaymentRecord{
			ID:        "p" + string(rune('a'+i)),
			UserID:    "user-1",
			Amount:    decimal.NewFromFloat(120.50),
			Currency:  "USD",
			DueDate:   paid,
			PaidDate:  &paid,
			Status:    models.PaymentStatusPaid,
			Country:   "US",
			CreatedAt: paid,
		}, i == 4))
	}

	history, err := repo.History(ctx, "user-1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "pe", history[0].ID)
	assert.True(t, history[0].Amount.Equal(decimal.NewFromFloat(120.50)))
	require.NotNil(t, history[0].PaidDate)

	labels, err := repo.FraudLabels(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, labels["pe"])
	assert.False(t, labels["pa"])

	require.NoError(t, repo.SetCreditLabel(ctx, CreditLabel{UserID: "user-1", Score: 720}))
	require.NoError(t, repo.SetCreditLabel(ctx, CreditLabel{UserID: "user-1", Score: 740}))
	credit, err := repo.CreditLabels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CreditLabel{{UserID: "user-1", Score: 740}}, credit)
}

func TestAssessmentRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAssessmentRepository(startPostgres(t))
	require.NoError(t, repo.Migrate(ctx))

	a := &models.FraudAssessment{
		ID:            "a1",
		UserID:        "user-1",
		TransactionID: "tx-1",
		IsFraud:       true,
		Decision:      models.DecisionBlock,
		Probability:   0.91,
		Confidence:    0.82,
		Severity:      models.SeverityCritical,
		ViolatedRules: []string{models.RuleHighValue, models.RuleUnusualTime},
		RiskFactors:   []models.RiskFactor{{Name: models.RuleHighValue, Value: 1, Risk: models.SeverityHigh}},
		AssessedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.Save(ctx, a))

	got, err := repo.GetByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, a.ViolatedRules, got.ViolatedRules)
	assert.Equal(t, a.RiskFactors, got.RiskFactors)
	assert.True(t, got.IsFraud)

	_, err = repo.GetByTransactionID(ctx, "missing")
	assert.ErrorIs(t, err, ErrAssessmentNotFound)

	stats, err := repo.Stats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Blocked)
	assert.Equal(t, int64(1), stats.BySeverity[models.SeverityCritical])
}
