package training

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"credchain-risk/internal/features"
	"credchain-risk/internal/models"
	"credchain-risk/internal/repository"
)

type memoryHistory struct {
	records map[string][]models.PaymentRecord
	fraud   map[string]bool
	credit  []repository.CreditLabel
	err     error
}

func (m *memoryHistory) Users(context.Context) ([]string, error) {
	var users []string
	for u := range m.records {
		users = append(users, u)
	}
	return users, nil
}

func (m *memoryHistory) History(_ context.Context, userID string, _ int) ([]models.PaymentRecord, error) {
	return m.records[userID], m.err
}

func (m *memoryHistory) FraudLabels(context.Context, string) (map[string]bool, error) {
	return m.fraud, nil
}

func (m *memoryHistory) CreditLabels(context.Context) ([]repository.CreditLabel, error) {
	return m.credit, nil
}

func paidRecord(id string, at time.Time, amount int64) models.PaymentRecord {
	paid := at
	return models.PaymentRecord{
		ID:        id,
		Amount:    decimal.NewFromInt(amount),
		DueDate:   at,
		PaidDate:  &paid,
		Status:    models.PaymentStatusPaid,
		Country:   "US",
		CreatedAt: at,
	}
}

func TestBuildCredit(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &memoryHistory{
		records: map[string][]models.PaymentRecord{
			"u1": {paidRecord("a", base, 100), paidRecord("b", base.AddDate(0, 1, 0), 200)},
		},
		credit: []repository.CreditLabel{{UserID: "u1", Score: 720}, {UserID: "ghost", Score: 500}},
	}
	b := NewDatasetBuilder(features.NewExtractor(features.DefaultConfig()), src, 2, zap.NewNop())

	ds, err := b.Build(context.Background(), models.ModelTypeCredit, base.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	assert.Len(t, ds.Features[0], features.CreditVectorSize)
	assert.Equal(t, 720.0, ds.Labels[0])

	src.err = errors.New("connection reset")
	_, err = b.BuildCredit(context.Background(), base)
	assert.Error(t, err)
}

func TestBuildFraud(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	src := &memoryHistory{
		records: map[string][]models.PaymentRecord{
			// stored newest first, as the repository returns them
			"u1": {
				paidRecord("c", base.Add(48*time.Hour), 9000),
				paidRecord("b", base.Add(24*time.Hour), 120),
				paidRecord("a", base, 100),
			},
		},
		fraud: map[string]bool{"c": true},
	}
	b := NewDatasetBuilder(features.NewExtractor(features.DefaultConfig()), src, 0, zap.NewNop())

	ds, err := b.Build(context.Background(), models.ModelTypeFraud, base)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, []float64{0, 0, 1}, ds.Labels)
	assert.Len(t, ds.Features[2], features.FraudVectorSize)
	// the fraud row carries its own amount
	assert.Equal(t, 9000.0, ds.Features[2][0])
}

func TestBuildFraudSameInstant(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, stored := range [][]models.PaymentRecord{
		{paidRecord("small", at, 10), paidRecord("big", at, 9000)},
		{paidRecord("big", at, 9000), paidRecord("small", at, 10)},
	} {
		src := &memoryHistory{
			records: map[string][]models.PaymentRecord{"u1": stored},
			fraud:   map[string]bool{"big": true},
		}
		b := NewDatasetBuilder(features.NewExtractor(features.DefaultConfig()), src, 1, zap.NewNop())

		ds, err := b.BuildFraud(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, ds.Len())
		for i, row := range ds.Features {
			if row[0] == 9000 {
				assert.Equal(t, 1.0, ds.Labels[i], "fraud flag must follow the 9000 payment")
			} else {
				assert.Equal(t, 0.0, ds.Labels[i])
			}
		}
	}
}
