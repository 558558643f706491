package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusLate      PaymentStatus = "late"
	PaymentStatusDefaulted PaymentStatus = "defaulted"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRecord is one entry of a user's payment history.
type PaymentRecord struct {
	ID        string          `json:"id,omitempty" db:"id"`
	UserID    string          `json:"userId,omitempty" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Currency  string          `json:"currency,omitempty" db:"currency"`
	DueDate   time.Time       `json:"dueDate" db:"due_date"`
	PaidDate  *time.Time      `json:"paidDate,omitempty" db:"paid_date"`
	Status    PaymentStatus   `json:"status" db:"status"`
	Country   string          `json:"country,omitempty" db:"country"`
	Device    string          `json:"device,omitempty" db:"device"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// OnTime reports whether the record was paid no later than its due date.
func (p PaymentRecord) OnTime() bool {
	return p.Status == PaymentStatusPaid && p.PaidDate != nil && !p.PaidDate.After(p.DueDate)
}

// Late reports whether the record counts against punctuality.
func (p PaymentRecord) Late() bool {
	switch p.Status {
	case PaymentStatusLate, PaymentStatusDefaulted:
		return true
	case PaymentStatusPaid:
		return p.PaidDate != nil && p.PaidDate.After(p.DueDate)
	}
	return false
}

// TransactionContext describes the transaction under fraud assessment.
type TransactionContext struct {
	TransactionID string          `json:"transactionId" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Country       string          `json:"country,omitempty"`
	Device        string          `json:"device,omitempty"`
	Recipient     string          `json:"recipient,omitempty"`
}
