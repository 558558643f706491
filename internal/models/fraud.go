package models

import "time"

type Severity string
type Decision string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"

	DecisionAllow Decision = "allow"
	DecisionBlock Decision = "block"
)

// Rule names reported in RuleResult and ViolatedRules.
const (
	RuleHighValue          = "high_value"
	RuleUnusualTime        = "unusual_time"
	RuleSuspiciousLocation = "suspicious_location"
	RuleHighFrequency      = "high_frequency"
	RuleSuspiciousPattern  = "suspicious_pattern"
)

// SeverityFor maps a score in [0,1] to its tier.
func SeverityFor(score float64) Severity {
	switch {
	case score >= 0.8:
		return SeverityCritical
	case score >= 0.6:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type RuleResult struct {
	RuleName    string `json:"ruleName"`
	Triggered   bool   `json:"triggered"`
	Description string `json:"description"`
}

type RiskFactor struct {
	Name  string   `json:"name"`
	Value float64  `json:"value"`
	Risk  Severity `json:"risk"`
}

type EnsembleScores struct {
	Anomaly        float64 `json:"anomaly"`
	Outlier        float64 `json:"outlier"`
	Classification float64 `json:"classification"`
}

type FraudAssessment struct {
	ID              string         `json:"id,omitempty" db:"id"`
	UserID          string         `json:"userId" db:"user_id"`
	TransactionID   string         `json:"transactionId" db:"transaction_id"`
	IsFraud         bool           `json:"isFraud" db:"is_fraud"`
	Decision        Decision       `json:"decision" db:"decision"`
	Probability     float64        `json:"probability" db:"probability"`
	Confidence      float64        `json:"confidence" db:"confidence"`
	Severity        Severity       `json:"severity" db:"severity"`
	MLScore         float64        `json:"mlScore" db:"ml_score"`
	RuleScore       float64        `json:"ruleScore" db:"rule_score"`
	Ensemble        EnsembleScores `json:"ensemble"`
	Rules           []RuleResult   `json:"rules"`
	ViolatedRules   []string       `json:"violatedRules" db:"violated_rules"`
	RiskFactors     []RiskFactor   `json:"riskFactors"`
	Explanation     string         `json:"explanation" db:"explanation"`
	Recommendations []string       `json:"recommendations"`
	Degraded        bool           `json:"degraded" db:"degraded"`
	AssessedAt      time.Time      `json:"assessedAt" db:"created_at"`
}

// AssessmentStats summarizes stored assessments.
type AssessmentStats struct {
	Total      int64              `json:"total"`
	Blocked    int64              `json:"blocked"`
	Degraded   int64              `json:"degraded"`
	BySeverity map[Severity]int64 `json:"bySeverity"`
}
