package features

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credchain-risk/internal/models"
)

var now = time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC)

func paid(amount int64, created time.Time) models.PaymentRecord {
	paidAt := created
	return models.PaymentRecord{
		Amount:    decimal.NewFromInt(amount),
		DueDate:   created.Add(24 * time.Hour),
		PaidDate:  &paidAt,
		Status:    models.PaymentStatusPaid,
		Country:   "BR",
		Device:    "phone-1",
		CreatedAt: created,
	}
}

func TestCreditEmptyHistory(t *testing.T) {
	e := NewExtractor(DefaultConfig())

	p := e.Credit(nil, now)

	assert.True(t, p.Empty())
	assert.Equal(t, make([]float64, CreditVectorSize), p.Vector())
}

func TestCreditProfile(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	var records []models.PaymentRecord
	for i := 0; i < 10; i++ {
		records = append(records, paid(100, now.AddDate(0, -i*3, 0)))
	}

	p := e.Credit(records, now)

	assert.Equal(t, 10, p.TotalPayments)
	assert.Equal(t, 10, p.OnTimePayments)
	assert.InDelta(t, 1.0, p.OnTimeRatio(), 1e-12)
	assert.InDelta(t, 100.0, p.AverageAmount, 1e-9)
	assert.InDelta(t, 1.0, p.Utilization(), 1e-12)
	assert.Equal(t, 1, p.AmountTiers)
	// records at 0 and -3 months fall inside the 6 month window, -6 sits on its edge
	assert.Equal(t, 3, p.RecentCount)
	assert.InDelta(t, 27*30.4/30, p.AgeMonths, 0.5)

	v := p.Vector()
	require.Len(t, v, CreditVectorSize)
	assert.InDelta(t, 100.0, v[0], 1e-9)
	assert.InDelta(t, 100.0, v[1], 1e-9)
	assert.Equal(t, 0.0, v[7])
	assert.Equal(t, 0.0, v[8])
}

func TestCreditProfileLateAndTiers(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	late := paid(50, now.Add(-48*time.Hour))
	paidAt := late.DueDate.Add(72 * time.Hour)
	late.PaidDate = &paidAt

	records := []models.PaymentRecord{
		late,
		paid(250, now.Add(-24*time.Hour)),
		paid(750, now),
		{Amount: decimal.NewFromInt(5000), Status: models.PaymentStatusDefaulted, CreatedAt: now},
	}

	p := e.Credit(records, now)

	assert.Equal(t, 2, p.OnTimePayments)
	assert.Equal(t, 2, p.LatePayments)
	assert.Equal(t, 4, p.AmountTiers)
}

func TestInquiryCap(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	var records []models.PaymentRecord
	for i := 0; i < 25; i++ {
		records = append(records, paid(10, now.Add(-time.Duration(i)*time.Hour)))
	}

	assert.Equal(t, 10, e.Credit(records, now).RecentCount)
}

func TestFraudProfile(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	history := []models.PaymentRecord{
		paid(100, now.Add(-30*time.Minute)),
		paid(100, now.Add(-3*time.Hour)),
		paid(100, now.Add(-72*time.Hour)),
		paid(100, now.Add(-30*24*time.Hour)),
	}
	tx := models.TransactionContext{
		TransactionID: "tx-1",
		Amount:        decimal.NewFromInt(600),
		Timestamp:     time.Date(2024, 6, 15, 3, 0, 0, 0, time.UTC),
		Country:       "XX",
		Device:        "laptop-9",
	}

	p := e.Fraud(tx, history, now)

	assert.InDelta(t, 6.0, p.AmountRatio(), 1e-12)
	assert.Equal(t, 3, p.Hour)
	assert.True(t, p.Weekend())
	assert.Equal(t, 1, p.LastHour)
	assert.Equal(t, 2, p.Last24Hours)
	assert.Equal(t, 3, p.Last7Days)
	assert.True(t, p.NewLocation)
	assert.True(t, p.NewDevice)
	assert.True(t, p.SuspiciousCountry)
	assert.True(t, p.RoundAmount)
	assert.InDelta(t, 30.0, p.AccountAgeDays, 1e-9)
	assert.Len(t, p.Vector(), FraudVectorSize)
}

func TestFraudProfileEmptyHistory(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	tx := models.TransactionContext{Amount: decimal.RequireFromString("99.50"), Country: "BR"}

	p := e.Fraud(tx, nil, now)

	assert.Equal(t, 0.0, p.AmountRatio())
	assert.Equal(t, now.Hour(), p.Hour)
	assert.False(t, p.RoundAmount)
	assert.False(t, p.SuspiciousCountry)
	assert.Equal(t, 0, p.LastHour)
}

func TestRecentHistory(t *testing.T) {
	records := []models.PaymentRecord{
		paid(1, now.Add(-2*time.Hour)),
		paid(2, now),
		paid(3, now.Add(-time.Hour)),
	}

	got := RecentHistory(records, 2)

	require.Len(t, got, 2)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(2)))
	assert.True(t, got[1].Amount.Equal(decimal.NewFromInt(3)))
	assert.True(t, records[0].Amount.Equal(decimal.NewFromInt(1)), "input must not be reordered")
}

func TestBaselineVectors(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	records := []models.PaymentRecord{
		paid(300, now),
		paid(100, now.Add(-2*time.Hour)),
	}

	vectors := e.BaselineVectors(records)

	require.Len(t, vectors, 2)
	// the older record has no prior history
	assert.Equal(t, 0.0, vectors[0][1])
	assert.InDelta(t, 3.0, vectors[1][1], 1e-12)
}

func TestChronologicalSameInstant(t *testing.T) {
	a := paid(10, now)
	a.ID = "a"
	b := paid(9000, now)
	b.ID = "b"

	for _, input := range [][]models.PaymentRecord{{a, b}, {b, a}} {
		once := Chronological(input)
		twice := Chronological(once)
		require.Len(t, once, 2)
		assert.Equal(t, "a", once[0].ID)
		assert.Equal(t, "b", once[1].ID)
		assert.Equal(t, once, twice)
	}

	ordered, vectors := NewExtractor(DefaultConfig()).Replay([]models.PaymentRecord{b, a})
	require.Len(t, vectors, 2)
	for i, r := range ordered {
		assert.InDelta(t, r.Amount.InexactFloat64(), vectors[i][0], 1e-12)
	}
}
