// internal/service/ml_model.go
package service

import (
	"fmt"
	"math"

	"credchain-risk/internal/estimator"
	"credchain-risk/internal/features"
	"credchain-risk/internal/models"
)

// MLModel is a fixed-weight logistic classifier over the fraud vector. It
// serves classification scores while no trained fraud network is ready.
type MLModel struct {
	weights map[string]float64
	bias    float64
}

// NewMLModel creates a new baseline classifier
func NewMLModel() *MLModel {
	return &MLModel{
		weights: map[string]float64{
			"amount":             2.0,
			"velocity":           1.5,
			"new_location":       1.0,
			"unusual_hour":       1.0,
			"new_device":         0.5,
			"suspicious_country": 1.5,
		},
		bias: -3.5,
	}
}

func (m *MLModel) Name() string         { return "logistic-baseline" }
func (m *MLModel) Kind() estimator.Kind { return estimator.KindClassification }

// Predict calculates fraud probability using the model
func (m *MLModel) Predict(vector []float64) (estimator.Prediction, error) {
	if len(vector) != features.FraudVectorSize {
		return estimator.Prediction{}, models.NewInputError("features", "expected %d values, got %d", features.FraudVectorSize, len(vector))
	}

	score := m.bias
	for feature, value := range ExtractFeatures(vector) {
		if weight, exists := m.weights[feature]; exists {
			score += weight * value
		}
	}

	return estimator.Prediction{
		Value:      sigmoid(score),
		Confidence: 0.5,
		Fitted:     true,
	}, nil
}

func (m *MLModel) Explain(vector []float64, p estimator.Prediction) string {
	var top string
	var topScore float64
	for feature, value := range ExtractFeatures(vector) {
		if s := m.weights[feature] * value; s > topScore {
			top, topScore = feature, s
		}
	}
	if top == "" {
		return fmt.Sprintf("baseline fraud probability %.2f", p.Value)
	}
	return fmt.Sprintf("baseline fraud probability %.2f, driven by %s", p.Value, top)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// ExtractFeatures maps a fraud vector onto the normalized baseline inputs.
func ExtractFeatures(vector []float64) map[string]float64 {
	feats := make(map[string]float64)

	// Relative amount when history exists, otherwise against a 10,000 ceiling
	if ratio := vector[1]; ratio > 0 {
		feats["amount"] = math.Min(ratio/10.0, 1.0)
	} else {
		feats["amount"] = math.Min(vector[0]/10000.0, 1.0)
	}

	// Transactions in the last hour, max 20
	feats["velocity"] = math.Min(vector[5]/20.0, 1.0)

	feats["new_location"] = vector[8]
	feats["new_device"] = vector[9]
	feats["suspicious_country"] = vector[10]

	hour := vector[2]
	if hour < 6 || hour > 22 {
		feats["unusual_hour"] = 1.0
	} else {
		feats["unusual_hour"] = 0.0
	}

	return feats
}
