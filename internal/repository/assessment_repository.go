// internal/repository/assessment_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"credchain-risk/internal/models"
)

const assessmentSchema = `
CREATE TABLE IF NOT EXISTS fraud_assessments (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	transaction_id  TEXT NOT NULL,
	is_fraud        BOOLEAN NOT NULL,
	decision        TEXT NOT NULL,
	probability     DOUBLE PRECISION NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	severity        TEXT NOT NULL,
	ml_score        DOUBLE PRECISION NOT NULL,
	rule_score      DOUBLE PRECISION NOT NULL,
	violated_rules  TEXT[] NOT NULL DEFAULT '{}',
	risk_factors    JSONB,
	explanation     TEXT NOT NULL DEFAULT '',
	degraded        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fraud_assessments_tx ON fraud_assessments (transaction_id, created_at DESC);
`

// ErrAssessmentNotFound is returned when no assessment matches.
var ErrAssessmentNotFound = errors.New("assessment not found")

type AssessmentRepository struct {
	db *sql.DB
}

func NewAssessmentRepository(db *sql.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

func (r *AssessmentRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, assessmentSchema); err != nil {
		return fmt.Errorf("failed to migrate assessment schema: %w", err)
	}
	return nil
}

func (r *AssessmentRepository) Save(ctx context.Context, a *models.FraudAssessment) error {
	factors, err := json.Marshal(a.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to encode risk factors: %w", err)
	}

	query := `
		INSERT INTO fraud_assessments (
			id, user_id, transaction_id, is_fraud, decision, probability,
			confidence, severity, ml_score, rule_score, violated_rules,
			risk_factors, explanation, degraded, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.ExecContext(ctx, query,
		a.ID,
		a.UserID,
		a.TransactionID,
		a.IsFraud,
		a.Decision,
		a.Probability,
		a.Confidence,
		a.Severity,
		a.MLScore,
		a.RuleScore,
		pq.Array(a.ViolatedRules),
		factors,
		a.Explanation,
		a.Degraded,
		a.AssessedAt,
	)
	return err
}

// GetByTransactionID returns the latest assessment of a transaction.
func (r *AssessmentRepository) GetByTransactionID(ctx context.Context, txID string) (*models.FraudAssessment, error) {
	query := `
		SELECT id, user_id, transaction_id, is_fraud, decision, probability,
			   confidence, severity, ml_score, rule_score, violated_rules,
			   risk_factors, explanation, degraded, created_at
		FROM fraud_assessments WHERE transaction_id = $1
		ORDER BY created_at DESC LIMIT 1
	`

	a := &models.FraudAssessment{}
	var factors []byte
	err := r.db.QueryRowContext(ctx, query, txID).Scan(
		&a.ID,
		&a.UserID,
		&a.TransactionID,
		&a.IsFraud,
		&a.Decision,
		&a.Probability,
		&a.Confidence,
		&a.Severity,
		&a.MLScore,
		&a.RuleScore,
		pq.Array(&a.ViolatedRules),
		&factors,
		&a.Explanation,
		&a.Degraded,
		&a.AssessedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &a.RiskFactors); err != nil {
			return nil, fmt.Errorf("failed to decode risk factors: %w", err)
		}
	}
	return a, nil
}

// Stats counts assessments created since the given time.
func (r *AssessmentRepository) Stats(ctx context.Context, since time.Time) (*models.AssessmentStats, error) {
	query := `
		SELECT severity, COUNT(*),
			   COUNT(*) FILTER (WHERE decision = 'block'),
			   COUNT(*) FILTER (WHERE degraded)
		FROM fraud_assessments WHERE created_at >= $1
		GROUP BY severity
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.AssessmentStats{BySeverity: make(map[models.Severity]int64)}
	for rows.Next() {
		var severity models.Severity
		var total, blocked, degraded int64
		if err := rows.Scan(&severity, &total, &blocked, &degraded); err != nil {
			return nil, err
		}
		stats.BySeverity[severity] = total
		stats.Total += total
		stats.Blocked += blocked
		stats.Degraded += degraded
	}
	return stats, rows.Err()
}
