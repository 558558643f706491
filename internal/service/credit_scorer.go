// internal/service/credit_scorer.go
package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"credchain-risk/internal/estimator"
	"credchain-risk/internal/features"
	"credchain-risk/internal/models"
	"credchain-risk/pkg/metrics"
)

// CreditWeights are exact decimal weights of the five credit factors.
type CreditWeights struct {
	PaymentHistory     decimal.Decimal
	CreditUtilization  decimal.Decimal
	CreditAge          decimal.Decimal
	CreditMix          decimal.Decimal
	NewCreditInquiries decimal.Decimal
}

func DefaultCreditWeights() CreditWeights {
	return CreditWeights{
		PaymentHistory:     decimal.RequireFromString("0.35"),
		CreditUtilization:  decimal.RequireFromString("0.30"),
		CreditAge:          decimal.RequireFromString("0.15"),
		CreditMix:          decimal.RequireFromString("0.10"),
		NewCreditInquiries: decimal.RequireFromString("0.10"),
	}
}

func (w CreditWeights) byFactor() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		models.FactorPaymentHistory:     w.PaymentHistory,
		models.FactorCreditUtilization:  w.CreditUtilization,
		models.FactorCreditAge:          w.CreditAge,
		models.FactorCreditMix:          w.CreditMix,
		models.FactorNewCreditInquiries: w.NewCreditInquiries,
	}
}

func (w CreditWeights) Sum() decimal.Decimal {
	return decimal.Sum(w.PaymentHistory, w.CreditUtilization, w.CreditAge, w.CreditMix, w.NewCreditInquiries)
}

func (w CreditWeights) Validate() error {
	if !w.Sum().Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("credit weights must sum to 1, got %s", w.Sum())
	}
	for name, weight := range w.byFactor() {
		if weight.IsNegative() {
			return fmt.Errorf("credit weight %s is negative", name)
		}
	}
	return nil
}

// Contribution is factor value times its weight, computed exactly.
func (w CreditWeights) Contribution(factor string, value float64) decimal.Decimal {
	return decimal.NewFromFloat(value).Mul(w.byFactor()[factor])
}

type CreditConfig struct {
	Weights             CreditWeights
	Scale               models.ScoreScale
	ConfidenceBase      float64
	ConfidencePerRecord float64
	MinConfidence       float64
	MaxConfidence       float64
}

func DefaultCreditConfig() CreditConfig {
	return CreditConfig{
		Weights:             DefaultCreditWeights(),
		Scale:               models.ScalePresentation,
		ConfidenceBase:      0.5,
		ConfidencePerRecord: 0.05,
		MinConfidence:       0.1,
		MaxConfidence:       0.95,
	}
}

// CreditScorer is the deterministic weighted multi-factor credit estimator.
type CreditScorer struct {
	cfg       CreditConfig
	extractor *features.Extractor
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewCreditScorer(cfg CreditConfig, extractor *features.Extractor, m *metrics.Metrics, logger *zap.Logger) (*CreditScorer, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Scale.Bounds(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &CreditScorer{
		cfg:       cfg,
		extractor: extractor,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Scale is the scale used when callers do not request one.
func (s *CreditScorer) Scale() models.ScoreScale { return s.cfg.Scale }

// ComputeCreditScore scores records on the configured scale.
func (s *CreditScorer) ComputeCreditScore(ctx context.Context, userID string, records []models.PaymentRecord) *models.CreditScoreResult {
	return s.ComputeCreditScoreAt(ctx, userID, records, s.cfg.Scale, s.now())
}

// ComputeCreditScoreAt scores records on the requested scale relative to now.
// It never fails: internal errors yield a degraded zero result.
func (s *CreditScorer) ComputeCreditScoreAt(ctx context.Context, userID string, records []models.PaymentRecord, scale models.ScoreScale, now time.Time) (result *models.CreditScoreResult) {
	defer func() {
		if r := recover(); r != nil {
			err := &models.ComputationError{Estimator: "credit", Err: fmt.Errorf("panic: %v", r)}
			result = s.degraded(userID, scale, now, err)
		}
	}()

	bounds, err := scale.Bounds()
	if err != nil {
		return s.degraded(userID, scale, now, &models.ComputationError{Estimator: "credit", Err: err})
	}

	if len(records) == 0 {
		s.metrics.CreditScores.WithLabelValues("insufficient_data").Inc()
		return &models.CreditScoreResult{
			UserID:           userID,
			Scale:            scale,
			Bounds:           bounds,
			Factors:          zeroFactors(),
			Explanation:      "Insufficient data: no payment history available to compute a credit score",
			Recommendations:  []string{"Register payments so a score can be computed"},
			InsufficientData: true,
			Degraded:         true,
			ComputedAt:       now,
		}
	}

	profile := s.extractor.Credit(records, now)
	factors := s.Factors(profile)
	sum := s.WeightedSum(factors)

	result = &models.CreditScoreResult{
		UserID:          userID,
		Score:           bounds.Clamp(int(sum.Round(0).IntPart())),
		Scale:           scale,
		Bounds:          bounds,
		WeightedSum:     sum.InexactFloat64(),
		Confidence:      s.confidence(len(records)),
		Factors:         factors,
		Explanation:     ExplainFactors(factors),
		Recommendations: RecommendCredit(factors),
		RecordCount:     len(records),
		ComputedAt:      now,
	}
	s.metrics.CreditScores.WithLabelValues("scored").Inc()
	s.logger.Debug("credit score computed",
		zap.String("user_id", userID),
		zap.Int("score", result.Score),
		zap.String("scale", string(scale)),
		zap.Float64("confidence", result.Confidence))
	return result
}

func (s *CreditScorer) degraded(userID string, scale models.ScoreScale, now time.Time, err error) *models.CreditScoreResult {
	s.metrics.CreditScores.WithLabelValues("degraded").Inc()
	s.metrics.DegradedResults.WithLabelValues("credit").Inc()
	s.logger.Warn("credit score degraded", zap.String("user_id", userID), zap.Error(err))
	result := &models.CreditScoreResult{
		UserID:          userID,
		Scale:           scale,
		Factors:         zeroFactors(),
		Explanation:     "Credit score unavailable: " + err.Error(),
		Recommendations: []string{},
		Degraded:        true,
		ComputedAt:      now,
	}
	if bounds, err := scale.Bounds(); err == nil {
		result.Bounds = bounds
	}
	return result
}

// Factors scores the five sub-factors on [0,100].
func (s *CreditScorer) Factors(p features.CreditProfile) map[string]float64 {
	if p.Empty() {
		return zeroFactors()
	}
	return map[string]float64{
		models.FactorPaymentHistory:     math.Round(p.OnTimeRatio() * 100),
		models.FactorCreditUtilization:  UtilizationFactor(p.Utilization()),
		models.FactorCreditAge:          CreditAgeFactor(p.AgeMonths),
		models.FactorCreditMix:          CreditMixFactor(p.AmountTiers),
		models.FactorNewCreditInquiries: InquiriesFactor(p.RecentCount),
	}
}

// WeightedSum is Σ factor×weight on [0,100], before any clamping.
func (s *CreditScorer) WeightedSum(factors map[string]float64) decimal.Decimal {
	sum := decimal.Zero
	for _, name := range models.CreditFactors {
		sum = sum.Add(s.cfg.Weights.Contribution(name, factors[name]))
	}
	return sum
}

func (s *CreditScorer) confidence(records int) float64 {
	c := s.cfg.ConfidenceBase + float64(records)*s.cfg.ConfidencePerRecord
	return math.Max(s.cfg.MinConfidence, math.Min(s.cfg.MaxConfidence, c))
}

func UtilizationFactor(ratio float64) float64 {
	switch {
	case ratio <= 0.1:
		return 100
	case ratio <= 0.3:
		return 90
	case ratio <= 0.5:
		return 70
	case ratio <= 0.7:
		return 50
	}
	return 30
}

func CreditAgeFactor(months float64) float64 {
	switch {
	case months >= 60:
		return 100
	case months >= 36:
		return 80
	case months >= 24:
		return 60
	case months >= 12:
		return 40
	}
	return 20
}

func CreditMixFactor(types int) float64 {
	switch {
	case types >= 4:
		return 100
	case types >= 3:
		return 80
	case types >= 2:
		return 60
	}
	return 40
}

// InquiriesFactor is inverted: fewer recent records score higher.
func InquiriesFactor(count int) float64 {
	switch {
	case count <= 2:
		return 100
	case count <= 4:
		return 80
	case count <= 6:
		return 60
	}
	return 40
}

func zeroFactors() map[string]float64 {
	factors := make(map[string]float64, len(models.CreditFactors))
	for _, name := range models.CreditFactors {
		factors[name] = 0
	}
	return factors
}

// ExplainFactors summarizes the two heaviest factors.
func ExplainFactors(factors map[string]float64) string {
	var parts []string

	switch ph := factors[models.FactorPaymentHistory]; {
	case ph >= 90:
		parts = append(parts, "Excellent payment history")
	case ph >= 70:
		parts = append(parts, "Good payment history")
	default:
		parts = append(parts, "Payment history needs improvement")
	}

	switch cu := factors[models.FactorCreditUtilization]; {
	case cu >= 80:
		parts = append(parts, "ideal credit utilization")
	case cu >= 60:
		parts = append(parts, "moderate credit utilization")
	default:
		parts = append(parts, "high credit utilization")
	}

	return strings.Join(parts, ", ")
}

func RecommendCredit(factors map[string]float64) []string {
	recs := []string{}
	if factors[models.FactorPaymentHistory] < 90 {
		recs = append(recs, "Pay every bill on or before its due date")
	}
	if factors[models.FactorCreditUtilization] < 80 {
		recs = append(recs, "Reduce the share of your available limit in use")
	}
	if factors[models.FactorCreditAge] < 80 {
		recs = append(recs, "Keep older accounts open to lengthen your history")
	}
	if factors[models.FactorCreditMix] < 80 {
		recs = append(recs, "Diversify the kinds of credit you use")
	}
	if factors[models.FactorNewCreditInquiries] < 80 {
		recs = append(recs, "Avoid opening many new obligations at once")
	}
	return recs
}

// Estimator view of the scorer over the credit feature vector.

func (s *CreditScorer) Name() string         { return "weighted-credit" }
func (s *CreditScorer) Kind() estimator.Kind { return estimator.KindCredit }

// Predict scores a credit vector. Value is the weighted sum scaled to [0,1].
func (s *CreditScorer) Predict(vector []float64) (estimator.Prediction, error) {
	if len(vector) != features.CreditVectorSize {
		return estimator.Prediction{}, models.NewInputError("features", "expected %d values, got %d", features.CreditVectorSize, len(vector))
	}
	total := vector[5]
	if total <= 0 {
		return estimator.Prediction{}, nil
	}
	p := features.CreditProfile{
		TotalPayments: int(total),
		AgeMonths:     vector[2],
		AmountTiers:   int(vector[3]),
		RecentCount:   int(vector[4]),
	}
	factors := map[string]float64{
		models.FactorPaymentHistory:     math.Round(vector[0]),
		models.FactorCreditUtilization:  UtilizationFactor(vector[1] / 100),
		models.FactorCreditAge:          CreditAgeFactor(p.AgeMonths),
		models.FactorCreditMix:          CreditMixFactor(p.AmountTiers),
		models.FactorNewCreditInquiries: InquiriesFactor(p.RecentCount),
	}
	sum := s.WeightedSum(factors).InexactFloat64()
	return estimator.Prediction{
		Value:      estimator.Clamp01(sum / 100),
		Confidence: s.confidence(p.TotalPayments),
		Fitted:     true,
	}, nil
}

func (s *CreditScorer) Explain(vector []float64, p estimator.Prediction) string {
	if !p.Fitted {
		return "insufficient data"
	}
	return fmt.Sprintf("weighted factor score %.1f/100 with confidence %.2f", p.Value*100, p.Confidence)
}
