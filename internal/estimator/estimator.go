// Package estimator defines the common interface of every scoring model.
package estimator

import (
	"errors"

	"credchain-risk/internal/models"
)

type Kind string

const (
	KindCredit         Kind = "credit"
	KindFraud          Kind = "fraud"
	KindAnomaly        Kind = "anomaly"
	KindOutlier        Kind = "outlier"
	KindClassification Kind = "classification"
)

// Prediction is the raw output of an estimator. Value is in [0,1] for
// probabilities and scores unless the estimator documents otherwise.
type Prediction struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	// Fitted is false when the estimator had no baseline and returned a neutral value.
	Fitted bool `json:"fitted"`
}

type Estimator interface {
	Name() string
	Kind() Kind
	Predict(features []float64) (Prediction, error)
	Explain(features []float64, p Prediction) string
}

// Fallback serves predictions from primary and switches to secondary while
// primary reports a model that is not ready.
type Fallback struct {
	Primary   Estimator
	Secondary Estimator
}

func (f Fallback) Name() string { return f.Primary.Name() }
func (f Fallback) Kind() Kind   { return f.Primary.Kind() }

func (f Fallback) Predict(features []float64) (Prediction, error) {
	p, err := f.Primary.Predict(features)
	if err == nil {
		return p, nil
	}
	var notReady *models.ModelNotReadyError
	if f.Secondary != nil && errors.As(err, &notReady) {
		return f.Secondary.Predict(features)
	}
	return Prediction{}, err
}

func (f Fallback) Explain(features []float64, p Prediction) string {
	return f.Primary.Explain(features, p)
}

// Clamp01 limits v to [0,1] and maps NaN to 0.
func Clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
