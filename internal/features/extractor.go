// Package features turns payment history into fixed-length numeric vectors.
// All functions are pure: time-relative features use the caller's now.
package features

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"credchain-risk/internal/models"
)

const (
	CreditVectorSize = 10
	FraudVectorSize  = 15
)

type Config struct {
	// InquiryWindow is the lookback for the new-credit-inquiries count.
	InquiryWindowMonths int
	InquiryCap          int
	// AmountTiers splits amounts into small/medium/large/premium.
	AmountTiers         [3]float64
	SuspiciousCountries []string
	RoundAmountUnit     int64
}

func DefaultConfig() Config {
	return Config{
		InquiryWindowMonths: 6,
		InquiryCap:          10,
		AmountTiers:         [3]float64{100, 500, 1000},
		SuspiciousCountries: []string{"XX", "YY", "ZZ"},
		RoundAmountUnit:     100,
	}
}

type Extractor struct {
	cfg        Config
	suspicious map[string]struct{}
}

func NewExtractor(cfg Config) *Extractor {
	suspicious := make(map[string]struct{}, len(cfg.SuspiciousCountries))
	for _, c := range cfg.SuspiciousCountries {
		suspicious[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	if cfg.InquiryCap <= 0 {
		cfg.InquiryCap = 10
	}
	if cfg.RoundAmountUnit <= 0 {
		cfg.RoundAmountUnit = 100
	}
	return &Extractor{cfg: cfg, suspicious: suspicious}
}

// IsSuspiciousCountry reports whether the country is in the configured set.
func (e *Extractor) IsSuspiciousCountry(country string) bool {
	_, ok := e.suspicious[strings.ToUpper(strings.TrimSpace(country))]
	return ok
}

// CreditProfile aggregates a user's payment history.
type CreditProfile struct {
	TotalPayments    int
	OnTimePayments   int
	LatePayments     int
	TotalAmount      float64
	AverageAmount    float64
	AmountStdDev     float64
	AgeMonths        float64
	AmountTiers      int
	RecentCount      int
	PaymentsPerMonth float64
}

func (p CreditProfile) Empty() bool { return p.TotalPayments == 0 }

func (p CreditProfile) OnTimeRatio() float64 {
	if p.TotalPayments == 0 {
		return 0
	}
	return float64(p.OnTimePayments) / float64(p.TotalPayments)
}

// Utilization is total amount over an estimated limit of ten average payments.
func (p CreditProfile) Utilization() float64 {
	limit := p.AverageAmount * 10
	if limit <= 0 {
		return 0
	}
	return p.TotalAmount / limit
}

// Vector layout:
//
//	0 on-time %        5 total payments
//	1 utilization %    6 average amount
//	2 age in months    7 amount coefficient of variation %
//	3 amount tiers     8 late %
//	4 recent count     9 payments per month
func (p CreditProfile) Vector() []float64 {
	v := make([]float64, CreditVectorSize)
	if p.Empty() {
		return v
	}
	v[0] = p.OnTimeRatio() * 100
	v[1] = p.Utilization() * 100
	v[2] = p.AgeMonths
	v[3] = float64(p.AmountTiers)
	v[4] = float64(p.RecentCount)
	v[5] = float64(p.TotalPayments)
	v[6] = p.AverageAmount
	if p.AverageAmount > 0 {
		v[7] = p.AmountStdDev / p.AverageAmount * 100
	}
	v[8] = float64(p.LatePayments) / float64(p.TotalPayments) * 100
	v[9] = p.PaymentsPerMonth
	return v
}

// Credit builds the credit profile. Empty history yields a zero profile.
func (e *Extractor) Credit(records []models.PaymentRecord, now time.Time) CreditProfile {
	var p CreditProfile
	if len(records) == 0 {
		return p
	}

	p.TotalPayments = len(records)
	windowStart := now.AddDate(0, -e.cfg.InquiryWindowMonths, 0)
	tiers := make(map[int]struct{}, 4)
	amounts := make([]float64, 0, len(records))
	oldest, newest := records[0].CreatedAt, records[0].CreatedAt

	for _, r := range records {
		amount := r.Amount.InexactFloat64()
		amounts = append(amounts, amount)
		p.TotalAmount += amount
		tiers[e.amountTier(amount)] = struct{}{}

		if r.OnTime() {
			p.OnTimePayments++
		}
		if r.Late() {
			p.LatePayments++
		}
		if !r.CreatedAt.Before(windowStart) {
			p.RecentCount++
		}
		if r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
		if r.CreatedAt.After(newest) {
			newest = r.CreatedAt
		}
	}

	p.AverageAmount = p.TotalAmount / float64(p.TotalPayments)
	p.AmountStdDev = stdDev(amounts, p.AverageAmount)
	p.AgeMonths = MonthsBetween(oldest, newest)
	p.AmountTiers = len(tiers)
	if p.RecentCount > e.cfg.InquiryCap {
		p.RecentCount = e.cfg.InquiryCap
	}
	months := math.Max(p.AgeMonths, 1)
	p.PaymentsPerMonth = float64(p.TotalPayments) / months
	return p
}

func (e *Extractor) amountTier(amount float64) int {
	for i, limit := range e.cfg.AmountTiers {
		if amount < limit {
			return i
		}
	}
	return len(e.cfg.AmountTiers)
}

// MonthsBetween counts 30-day months.
func MonthsBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / (24 * 30)
}

// FraudProfile describes a transaction against the user's prior behavior.
type FraudProfile struct {
	Amount            float64
	HistoricalAverage float64
	HistoryCount      int
	Hour              int
	Weekday           int
	LastHour          int
	Last24Hours       int
	Last7Days         int
	NewLocation       bool
	NewDevice         bool
	SuspiciousCountry bool
	RoundAmount       bool
	FailedRatio       float64
	LateRatio         float64
	AccountAgeDays    float64
}

// AmountRatio is the amount relative to the historical average, 0 without history.
func (p FraudProfile) AmountRatio() float64 {
	if p.HistoricalAverage <= 0 {
		return 0
	}
	return p.Amount / p.HistoricalAverage
}

func (p FraudProfile) Weekend() bool {
	return p.Weekday == int(time.Saturday) || p.Weekday == int(time.Sunday)
}

// Vector layout:
//
//	0 amount              5 tx last hour       10 suspicious country
//	1 amount ratio        6 tx last 24h        11 round amount
//	2 hour                7 tx last 7 days     12 failed %
//	3 weekday             8 new location       13 late %
//	4 weekend             9 new device         14 account age days
func (p FraudProfile) Vector() []float64 {
	return []float64{
		p.Amount,
		p.AmountRatio(),
		float64(p.Hour),
		float64(p.Weekday),
		boolFloat(p.Weekend()),
		float64(p.LastHour),
		float64(p.Last24Hours),
		float64(p.Last7Days),
		boolFloat(p.NewLocation),
		boolFloat(p.NewDevice),
		boolFloat(p.SuspiciousCountry),
		boolFloat(p.RoundAmount),
		p.FailedRatio * 100,
		p.LateRatio * 100,
		p.AccountAgeDays,
	}
}

// Fraud builds the fraud profile of tx. A zero tx timestamp means now.
func (e *Extractor) Fraud(tx models.TransactionContext, history []models.PaymentRecord, now time.Time) FraudProfile {
	at := tx.Timestamp
	if at.IsZero() {
		at = now
	}

	p := FraudProfile{
		Amount:            tx.Amount.InexactFloat64(),
		HistoryCount:      len(history),
		Hour:              at.Hour(),
		Weekday:           int(at.Weekday()),
		SuspiciousCountry: e.IsSuspiciousCountry(tx.Country),
		RoundAmount:       tx.Amount.Mod(decimal.NewFromInt(e.cfg.RoundAmountUnit)).IsZero(),
		NewLocation:       true,
		NewDevice:         tx.Device != "",
	}
	if len(history) == 0 {
		return p
	}

	var total float64
	var failed, late int
	oldest := history[0].CreatedAt
	for _, r := range history {
		total += r.Amount.InexactFloat64()
		if r.Status == models.PaymentStatusFailed {
			failed++
		}
		if r.Late() {
			late++
		}
		if r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
		if strings.EqualFold(r.Country, tx.Country) {
			p.NewLocation = false
		}
		if tx.Device != "" && r.Device == tx.Device {
			p.NewDevice = false
		}

		age := now.Sub(r.CreatedAt)
		if age < 0 {
			continue
		}
		if age <= time.Hour {
			p.LastHour++
		}
		if age <= 24*time.Hour {
			p.Last24Hours++
		}
		if age <= 7*24*time.Hour {
			p.Last7Days++
		}
	}

	n := float64(len(history))
	p.HistoricalAverage = total / n
	p.FailedRatio = float64(failed) / n
	p.LateRatio = float64(late) / n
	p.AccountAgeDays = math.Max(0, now.Sub(oldest).Hours()/24)
	return p
}

// RecentHistory returns at most limit records, newest first. Records created
// at the same instant are ordered by descending ID.
func RecentHistory(records []models.PaymentRecord, limit int) []models.PaymentRecord {
	sorted := make([]models.PaymentRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// Chronological returns a copy of records, oldest first.
func Chronological(records []models.PaymentRecord) []models.PaymentRecord {
	ordered := RecentHistory(records, 0)
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

// BaselineVectors replays the history in time order, featurizing each record
// as a transaction against the records before it.
func (e *Extractor) BaselineVectors(history []models.PaymentRecord) [][]float64 {
	_, vectors := e.Replay(history)
	return vectors
}

// Replay is BaselineVectors that also returns the record order the vectors
// were built in; vectors[i] describes ordered[i].
func (e *Extractor) Replay(history []models.PaymentRecord) ([]models.PaymentRecord, [][]float64) {
	ordered := Chronological(history)
	vectors := make([][]float64, 0, len(ordered))
	for i, r := range ordered {
		tx := models.TransactionContext{
			TransactionID: r.ID,
			Amount:        r.Amount,
			Currency:      r.Currency,
			Timestamp:     r.CreatedAt,
			Country:       r.Country,
			Device:        r.Device,
		}
		vectors = append(vectors, e.Fraud(tx, ordered[:i], r.CreatedAt).Vector())
	}
	return ordered, vectors
}

func stdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
