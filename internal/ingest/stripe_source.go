// Package ingest adapts external payment providers into payment history.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/charge"
	"go.uber.org/zap"

	"credchain-risk/internal/models"
)

// stripePageSize is the largest page the charges API returns.
const stripePageSize = 100

type chargeIterator interface {
	Next() bool
	Charge() *stripe.Charge
	Err() error
}

// StripeSource reads a customer's charges as payment history. The user id
// is the Stripe customer id.
type StripeSource struct {
	list   func(params *stripe.ChargeListParams) chargeIterator
	logger *zap.Logger
}

func NewStripeSource(secretKey string, logger *zap.Logger) *StripeSource {
	client := charge.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
	return &StripeSource{
		list: func(params *stripe.ChargeListParams) chargeIterator {
			return client.List(params)
		},
		logger: logger,
	}
}

// History returns up to limit charges of the customer, newest first.
func (s *StripeSource) History(ctx context.Context, userID string, limit int) ([]models.PaymentRecord, error) {
	params := &stripe.ChargeListParams{Customer: stripe.String(userID)}
	params.Context = ctx
	page := int64(stripePageSize)
	if limit > 0 && limit < stripePageSize {
		page = int64(limit)
	}
	params.Limit = stripe.Int64(page)

	var records []models.PaymentRecord
	it := s.list(params)
	for it.Next() {
		records = append(records, ChargeToRecord(userID, it.Charge()))
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stripe charges for %s: %w", userID, err)
	}

	s.logger.Debug("loaded stripe history", zap.String("customer", userID), zap.Int("records", len(records)))
	return records, nil
}

// ChargeToRecord maps a charge to a payment record. Charges are due and
// paid at creation, so a paid charge is always on time.
func ChargeToRecord(userID string, ch *stripe.Charge) models.PaymentRecord {
	created := time.Unix(ch.Created, 0).UTC()
	record := models.PaymentRecord{
		ID:        ch.ID,
		UserID:    userID,
		Amount:    decimal.New(ch.Amount, -minorUnits(ch.Currency)),
		Currency:  strings.ToUpper(string(ch.Currency)),
		DueDate:   created,
		Status:    chargeStatus(ch),
		CreatedAt: created,
	}
	if record.Status == models.PaymentStatusPaid {
		paid := created
		record.PaidDate = &paid
	}
	if ch.BillingDetails != nil && ch.BillingDetails.Address != nil {
		record.Country = ch.BillingDetails.Address.Country
	}
	if ch.Metadata != nil {
		record.Device = ch.Metadata["device"]
	}
	return record
}

// Stripe amounts are in the currency's smallest unit.
var (
	zeroDecimal = map[stripe.Currency]bool{
		"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
		"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
		"vuv": true, "xaf": true, "xof": true, "xpf": true,
	}
	threeDecimal = map[stripe.Currency]bool{
		"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true,
	}
)

func minorUnits(c stripe.Currency) int32 {
	c = stripe.Currency(strings.ToLower(string(c)))
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return 3
	default:
		return 2
	}
}

func chargeStatus(ch *stripe.Charge) models.PaymentStatus {
	switch ch.Status {
	case stripe.ChargeStatusSucceeded:
		if ch.Paid {
			return models.PaymentStatusPaid
		}
		return models.PaymentStatusPending
	case stripe.ChargeStatusPending:
		return models.PaymentStatusPending
	default:
		return models.PaymentStatusFailed
	}
}
