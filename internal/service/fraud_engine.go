// internal/service/fraud_engine.go
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"credchain-risk/internal/estimator"
	"credchain-risk/internal/features"
	"credchain-risk/internal/models"
	"credchain-risk/pkg/metrics"
)

const ruleCount = 5

type EnsembleWeights struct {
	Anomaly        float64
	Outlier        float64
	Classification float64
}

type FraudConfig struct {
	Ensemble EnsembleWeights
	// MLWeight and RuleWeight mix the ensemble score with the rule score.
	MLWeight   float64
	RuleWeight float64
	// Threshold is exclusive: a combined score equal to it is not fraud.
	Threshold           float64
	HighValueMultiplier float64
	ActiveHourStart     int
	ActiveHourEnd       int
	FrequencyLimit      int
	PatternHours        []int
	HistoryLimit        int
	MinBaseline         int
	FailClosedScore     float64
	MinConfidence       float64
	MaxConfidence       float64
}

func DefaultFraudConfig() FraudConfig {
	return FraudConfig{
		Ensemble:            EnsembleWeights{Anomaly: 0.4, Outlier: 0.3, Classification: 0.3},
		MLWeight:            0.7,
		RuleWeight:          0.3,
		Threshold:           0.7,
		HighValueMultiplier: 5,
		ActiveHourStart:     6,
		ActiveHourEnd:       22,
		FrequencyLimit:      10,
		PatternHours:        []int{2, 3},
		HistoryLimit:        100,
		MinBaseline:         3,
		FailClosedScore:     0.9,
		MinConfidence:       0.5,
		MaxConfidence:       0.95,
	}
}

// exactSum adds weights in decimal so 0.4+0.3+0.3 compares equal to 1.
func exactSum(weights ...float64) decimal.Decimal {
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(decimal.NewFromFloat(w))
	}
	return sum
}

func (c FraudConfig) Validate() error {
	one := decimal.NewFromInt(1)
	if s := exactSum(c.Ensemble.Anomaly, c.Ensemble.Outlier, c.Ensemble.Classification); !s.Equal(one) {
		return fmt.Errorf("ensemble weights must sum to 1, got %s", s)
	}
	if s := exactSum(c.MLWeight, c.RuleWeight); !s.Equal(one) {
		return fmt.Errorf("ml and rule weights must sum to 1, got %s", s)
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("fraud threshold must be in (0,1), got %v", c.Threshold)
	}
	if c.HistoryLimit <= 0 {
		return errors.New("history limit must be positive")
	}
	return nil
}

// EnsembleScore combines the three sub-estimator scores.
func (c FraudConfig) EnsembleScore(s models.EnsembleScores) float64 {
	return c.Ensemble.Anomaly*s.Anomaly + c.Ensemble.Outlier*s.Outlier + c.Ensemble.Classification*s.Classification
}

// Combine mixes the ensemble score and the rule score.
func (c FraudConfig) Combine(mlScore, ruleScore float64) float64 {
	return c.MLWeight*mlScore + c.RuleWeight*ruleScore
}

func (c FraudConfig) IsFraud(combined float64) bool {
	return combined > c.Threshold
}

func (c FraudConfig) Confidence(combined float64) float64 {
	return math.Min(c.MaxConfidence, math.Max(c.MinConfidence, 1-math.Abs(combined-0.5)*2))
}

type FraudEngine struct {
	cfg        FraudConfig
	extractor  *features.Extractor
	classifier estimator.Estimator
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewFraudEngine builds the engine. classifier supplies the classification
// member of the ensemble; nil selects the logistic baseline.
func NewFraudEngine(cfg FraudConfig, extractor *features.Extractor, classifier estimator.Estimator, m *metrics.Metrics, logger *zap.Logger) (*FraudEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		classifier = NewMLModel()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &FraudEngine{
		cfg:        cfg,
		extractor:  extractor,
		classifier: classifier,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// AssessFraud assesses tx against the user's history at the current time.
func (s *FraudEngine) AssessFraud(ctx context.Context, userID string, tx models.TransactionContext, records []models.PaymentRecord) *models.FraudAssessment {
	return s.AssessFraudAt(ctx, userID, tx, records, s.now())
}

// AssessFraudAt never fails. Any internal error, panics included, produces
// the fail-closed assessment.
func (s *FraudEngine) AssessFraudAt(ctx context.Context, userID string, tx models.TransactionContext, records []models.PaymentRecord, now time.Time) (assessment *models.FraudAssessment) {
	defer func() {
		if r := recover(); r != nil {
			assessment = s.failClosed(userID, tx, now, fmt.Errorf("panic: %v", r))
		}
	}()

	if tx.Amount.IsNegative() {
		return s.failClosed(userID, tx, now, fmt.Errorf("negative amount %s", tx.Amount))
	}

	history := features.RecentHistory(records, s.cfg.HistoryLimit)
	profile := s.extractor.Fraud(tx, history, now)
	vector := profile.Vector()

	assessment = &models.FraudAssessment{
		ID:            uuid.New().String(),
		UserID:        userID,
		TransactionID: tx.TransactionID,
		Rules:         []models.RuleResult{},
		ViolatedRules: []string{},
		AssessedAt:    now,
	}

	rules := []func(features.FraudProfile, *models.FraudAssessment){
		s.checkHighValue,
		s.checkUnusualTime,
		s.checkSuspiciousLocation,
		s.checkHighFrequency,
		s.checkSuspiciousPattern,
	}
	for _, rule := range rules {
		rule(profile, assessment)
	}
	assessment.RuleScore = float64(len(assessment.ViolatedRules)) / ruleCount

	ensemble, members, err := s.scoreEnsemble(history, vector)
	if err != nil {
		return s.failClosed(userID, tx, now, err)
	}
	assessment.Ensemble = ensemble
	assessment.MLScore = s.cfg.EnsembleScore(ensemble)

	combined := s.cfg.Combine(assessment.MLScore, assessment.RuleScore)
	s.decide(assessment, combined)
	assessment.RiskFactors = s.riskFactors(assessment)
	assessment.Explanation = s.explain(assessment, vector, members)
	assessment.Recommendations = recommendFraud(assessment)

	s.metrics.FraudAssessments.WithLabelValues(string(assessment.Decision), string(assessment.Severity)).Inc()
	if assessment.IsFraud {
		s.sendFraudAlert(ctx, assessment)
	}
	return assessment
}

// decide fills the decision fields for a combined score.
func (s *FraudEngine) decide(a *models.FraudAssessment, combined float64) {
	a.Probability = combined
	a.IsFraud = s.cfg.IsFraud(combined)
	a.Severity = models.SeverityFor(combined)
	a.Confidence = s.cfg.Confidence(combined)
	a.Decision = models.DecisionAllow
	if a.IsFraud {
		a.Decision = models.DecisionBlock
	}
}

type ensembleMember struct {
	est        estimator.Estimator
	prediction estimator.Prediction
}

// scoreEnsemble fits the anomaly and outlier detectors on the user's own
// history and queries the classifier.
func (s *FraudEngine) scoreEnsemble(history []models.PaymentRecord, vector []float64) (models.EnsembleScores, []ensembleMember, error) {
	baseline := s.extractor.BaselineVectors(history)

	anomaly := NewZScoreDetector(s.cfg.MinBaseline)
	if err := anomaly.Fit(baseline); err != nil {
		return models.EnsembleScores{}, nil, &models.ComputationError{Estimator: anomaly.Name(), Err: err}
	}
	outlier := NewCentroidDetector(s.cfg.MinBaseline)
	if err := outlier.Fit(baseline); err != nil {
		return models.EnsembleScores{}, nil, &models.ComputationError{Estimator: outlier.Name(), Err: err}
	}

	members := make([]ensembleMember, 0, 3)
	for _, est := range []estimator.Estimator{anomaly, outlier, s.classifier} {
		p, err := est.Predict(vector)
		if err != nil {
			return models.EnsembleScores{}, nil, &models.ComputationError{Estimator: est.Name(), Err: err}
		}
		if math.IsNaN(p.Value) {
			return models.EnsembleScores{}, nil, &models.ComputationError{Estimator: est.Name(), Err: errors.New("prediction is NaN")}
		}
		p.Value = estimator.Clamp01(p.Value)
		members = append(members, ensembleMember{est: est, prediction: p})
	}

	return models.EnsembleScores{
		Anomaly:        members[0].prediction.Value,
		Outlier:        members[1].prediction.Value,
		Classification: members[2].prediction.Value,
	}, members, nil
}

func (s *FraudEngine) addRule(a *models.FraudAssessment, name string, triggered bool, description string) {
	a.Rules = append(a.Rules, models.RuleResult{
		RuleName:    name,
		Triggered:   triggered,
		Description: description,
	})
	if triggered {
		a.ViolatedRules = append(a.ViolatedRules, name)
	}
}

// checkHighValue flags amounts above a multiple of the user's average
func (s *FraudEngine) checkHighValue(p features.FraudProfile, a *models.FraudAssessment) {
	triggered := p.HistoryCount > 0 && p.Amount > s.cfg.HighValueMultiplier*p.HistoricalAverage
	s.addRule(a, models.RuleHighValue, triggered,
		fmt.Sprintf("Amount %.2f against historical average %.2f", p.Amount, p.HistoricalAverage))
}

// checkUnusualTime flags transactions outside active hours
func (s *FraudEngine) checkUnusualTime(p features.FraudProfile, a *models.FraudAssessment) {
	triggered := p.Hour < s.cfg.ActiveHourStart || p.Hour > s.cfg.ActiveHourEnd
	s.addRule(a, models.RuleUnusualTime, triggered, fmt.Sprintf("Transaction hour: %d", p.Hour))
}

func (s *FraudEngine) checkSuspiciousLocation(p features.FraudProfile, a *models.FraudAssessment) {
	s.addRule(a, models.RuleSuspiciousLocation, p.SuspiciousCountry, "Country in suspicious set")
}

// checkHighFrequency checks transaction velocity in the trailing hour
func (s *FraudEngine) checkHighFrequency(p features.FraudProfile, a *models.FraudAssessment) {
	triggered := p.LastHour > s.cfg.FrequencyLimit
	s.addRule(a, models.RuleHighFrequency, triggered,
		fmt.Sprintf("Transaction count in last hour: %d", p.LastHour))
}

// checkSuspiciousPattern flags round amounts at specific night hours
func (s *FraudEngine) checkSuspiciousPattern(p features.FraudProfile, a *models.FraudAssessment) {
	atPatternHour := false
	for _, h := range s.cfg.PatternHours {
		if p.Hour == h {
			atPatternHour = true
			break
		}
	}
	s.addRule(a, models.RuleSuspiciousPattern, p.RoundAmount && atPatternHour,
		fmt.Sprintf("Round amount: %t, hour: %d", p.RoundAmount, p.Hour))
}

func (s *FraudEngine) riskFactors(a *models.FraudAssessment) []models.RiskFactor {
	factors := make([]models.RiskFactor, 0, len(a.Rules)+3)
	for _, r := range a.Rules {
		f := models.RiskFactor{Name: r.RuleName, Risk: models.SeverityLow}
		if r.Triggered {
			f.Value = 1
			f.Risk = models.SeverityHigh
		}
		factors = append(factors, f)
	}
	factors = append(factors,
		models.RiskFactor{Name: "anomaly_score", Value: a.Ensemble.Anomaly, Risk: models.SeverityFor(a.Ensemble.Anomaly)},
		models.RiskFactor{Name: "outlier_score", Value: a.Ensemble.Outlier, Risk: models.SeverityFor(a.Ensemble.Outlier)},
		models.RiskFactor{Name: "classification_score", Value: a.Ensemble.Classification, Risk: models.SeverityFor(a.Ensemble.Classification)},
	)
	return factors
}

func (s *FraudEngine) explain(a *models.FraudAssessment, vector []float64, members []ensembleMember) string {
	verdict := "No fraud detected"
	if a.IsFraud {
		verdict = "Suspicious activity detected"
	}
	text := fmt.Sprintf("%s: probability %.2f (ml %.2f, rules %d/%d), severity %s",
		verdict, a.Probability, a.MLScore, len(a.ViolatedRules), ruleCount, a.Severity)
	for _, m := range members {
		if m.prediction.Value > s.cfg.Threshold {
			text += "; " + m.est.Explain(vector, m.prediction)
		}
	}
	return text
}

func recommendFraud(a *models.FraudAssessment) []string {
	recs := []string{}
	if a.IsFraud {
		recs = append(recs, "Hold the transaction and confirm it with the account owner")
	}
	for _, name := range a.ViolatedRules {
		switch name {
		case models.RuleHighValue:
			recs = append(recs, "Verify the amount, it is far above this user's usual payments")
		case models.RuleUnusualTime:
			recs = append(recs, "Confirm activity made outside usual hours")
		case models.RuleSuspiciousLocation:
			recs = append(recs, "Require additional verification for this location")
		case models.RuleHighFrequency:
			recs = append(recs, "Throttle the account until recent activity is reviewed")
		case models.RuleSuspiciousPattern:
			recs = append(recs, "Review round-amount transfers made at night")
		}
	}
	return recs
}

// failClosed is the assessment returned when scoring fails: treated as
// fraud with high severity and marked degraded.
func (s *FraudEngine) failClosed(userID string, tx models.TransactionContext, now time.Time, err error) *models.FraudAssessment {
	s.metrics.DegradedResults.WithLabelValues("fraud").Inc()
	s.metrics.FraudAssessments.WithLabelValues(string(models.DecisionBlock), string(models.SeverityHigh)).Inc()
	s.logger.Warn("fraud assessment failed, blocking",
		zap.String("user_id", userID),
		zap.String("transaction_id", tx.TransactionID),
		zap.Error(err))

	return &models.FraudAssessment{
		ID:              uuid.New().String(),
		UserID:          userID,
		TransactionID:   tx.TransactionID,
		IsFraud:         true,
		Decision:        models.DecisionBlock,
		Probability:     s.cfg.FailClosedScore,
		Confidence:      s.cfg.FailClosedScore,
		Severity:        models.SeverityHigh,
		Rules:           []models.RuleResult{},
		ViolatedRules:   []string{},
		RiskFactors:     []models.RiskFactor{},
		Explanation:     "Assessment failed, blocked for safety: " + err.Error(),
		Recommendations: []string{"Review the transaction manually before releasing it"},
		Degraded:        true,
		AssessedAt:      now,
	}
}

// sendFraudAlert logs blocked transactions for downstream alerting
func (s *FraudEngine) sendFraudAlert(ctx context.Context, a *models.FraudAssessment) {
	s.logger.Warn("fraudulent transaction detected",
		zap.String("transaction_id", a.TransactionID),
		zap.String("user_id", a.UserID),
		zap.Float64("probability", a.Probability),
		zap.String("severity", string(a.Severity)),
		zap.Strings("violated_rules", a.ViolatedRules))
}
