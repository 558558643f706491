// internal/repository/payment_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"credchain-risk/internal/models"
)

const paymentSchema = `
CREATE TABLE IF NOT EXISTS payments (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	amount      NUMERIC(18,2) NOT NULL,
	currency    TEXT NOT NULL DEFAULT 'USD',
	due_date    TIMESTAMPTZ NOT NULL,
	paid_date   TIMESTAMPTZ,
	status      TEXT NOT NULL,
	country     TEXT NOT NULL DEFAULT '',
	device      TEXT NOT NULL DEFAULT '',
	is_fraud    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_user_created ON payments (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS credit_labels (
	user_id     TEXT PRIMARY KEY,
	score       DOUBLE PRECISION NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// CreditLabel is the reference score of a user for supervised training.
type CreditLabel struct {
	UserID string
	Score  float64
}

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, paymentSchema); err != nil {
		return fmt.Errorf("failed to migrate payments schema: %w", err)
	}
	return nil
}

// Create stores a payment. isFraud is the training label of the record.
func (r *PaymentRepository) Create(ctx context.Context, p *models.PaymentRecord, isFraud bool) error {
	query := `
		INSERT INTO payments (
			id, user_id, amount, currency, due_date, paid_date,
			status, country, device, is_fraud, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.UserID,
		p.Amount,
		p.Currency,
		p.DueDate,
		p.PaidDate,
		p.Status,
		p.Country,
		p.Device,
		isFraud,
		p.CreatedAt,
	)
	return err
}

// History returns up to limit records of a user, newest first. A
// non-positive limit returns the full history.
func (r *PaymentRepository) History(ctx context.Context, userID string, limit int) ([]models.PaymentRecord, error) {
	query := `
		SELECT id, user_id, amount, currency, due_date, paid_date,
			   status, country, device, created_at
		FROM payments WHERE user_id = $1
		ORDER BY created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.PaymentRecord
	for rows.Next() {
		var p models.PaymentRecord
		var paid sql.NullTime
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.Amount,
			&p.Currency,
			&p.DueDate,
			&paid,
			&p.Status,
			&p.Country,
			&p.Device,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		if paid.Valid {
			t := paid.Time
			p.PaidDate = &t
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

// FraudLabels returns the fraud label of every payment of a user keyed
// by payment id.
func (r *PaymentRepository) FraudLabels(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, is_fraud FROM payments WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	labels := make(map[string]bool)
	for rows.Next() {
		var id string
		var fraud bool
		if err := rows.Scan(&id, &fraud); err != nil {
			return nil, err
		}
		labels[id] = fraud
	}
	return labels, rows.Err()
}

func (r *PaymentRepository) Users(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM payments ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (r *PaymentRepository) SetCreditLabel(ctx context.Context, label CreditLabel) error {
	query := `
		INSERT INTO credit_labels (user_id, score, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET score = EXCLUDED.score, updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, label.UserID, label.Score)
	return err
}

func (r *PaymentRepository) CreditLabels(ctx context.Context) ([]CreditLabel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, score FROM credit_labels ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []CreditLabel
	for rows.Next() {
		var l CreditLabel
		if err := rows.Scan(&l.UserID, &l.Score); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}
