package models

import (
	"fmt"
	"time"
)

// Credit factor names, each scored on [0,100].
const (
	FactorPaymentHistory     = "paymentHistory"
	FactorCreditUtilization  = "creditUtilization"
	FactorCreditAge          = "creditAge"
	FactorCreditMix          = "creditMix"
	FactorNewCreditInquiries = "newCreditInquiries"
)

// CreditFactors lists the factor names in weight order.
var CreditFactors = []string{
	FactorPaymentHistory,
	FactorCreditUtilization,
	FactorCreditAge,
	FactorCreditMix,
	FactorNewCreditInquiries,
}

// ScoreScale names the bound a credit score is reported on. The weighted
// scorer and the trained regressor do not share a range, so callers pick one.
type ScoreScale string

const (
	ScalePresentation ScoreScale = "presentation"
	// ScaleModel bounds scores to [0,1000]. The weighted scorer reports its
	// rounded sum unchanged, which stays within [0,100]; only the trained
	// regressor spans the whole range.
	ScaleModel ScoreScale = "model"
)

type ScoreBounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (b ScoreBounds) Clamp(v int) int {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Bounds returns [300,850] for presentation and [0,1000] for model output.
func (s ScoreScale) Bounds() (ScoreBounds, error) {
	switch s {
	case ScalePresentation:
		return ScoreBounds{Min: 300, Max: 850}, nil
	case ScaleModel:
		return ScoreBounds{Min: 0, Max: 1000}, nil
	}
	return ScoreBounds{}, fmt.Errorf("unknown score scale %q", s)
}

type CreditScoreResult struct {
	UserID           string             `json:"userId"`
	Score            int                `json:"score"`
	Scale            ScoreScale         `json:"scale"`
	Bounds           ScoreBounds        `json:"bounds"`
	WeightedSum      float64            `json:"weightedSum"`
	Confidence       float64            `json:"confidence"`
	Factors          map[string]float64 `json:"factors"`
	Explanation      string             `json:"explanation"`
	Recommendations  []string           `json:"recommendations"`
	RecordCount      int                `json:"recordCount"`
	InsufficientData bool               `json:"insufficientData"`
	Degraded         bool               `json:"degraded"`
	ComputedAt       time.Time          `json:"computedAt"`
}
