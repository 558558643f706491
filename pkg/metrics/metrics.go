// pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors shared by the scoring service.
type Metrics struct {
	CreditScores      *prometheus.CounterVec
	FraudAssessments  *prometheus.CounterVec
	DegradedResults   *prometheus.CounterVec
	Predictions       *prometheus.CounterVec
	PredictionLatency *prometheus.HistogramVec
	ModelLifecycle    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CreditScores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credchain",
			Name:      "credit_scores_total",
			Help:      "Credit scores computed, by outcome.",
		}, []string{"outcome"}),
		FraudAssessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credchain",
			Name:      "fraud_assessments_total",
			Help:      "Fraud assessments, by decision and severity.",
		}, []string{"decision", "severity"}),
		DegradedResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credchain",
			Name:      "degraded_results_total",
			Help:      "Results produced by a fallback path.",
		}, []string{"estimator"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credchain",
			Name:      "model_predictions_total",
			Help:      "Model server predictions, by model and outcome.",
		}, []string{"model", "outcome"}),
		PredictionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credchain",
			Name:      "model_prediction_seconds",
			Help:      "Model server prediction latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"model"}),
		ModelLifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credchain",
			Name:      "model_lifecycle_events_total",
			Help:      "Model load/reload/unload events, by status.",
		}, []string{"model", "event", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CreditScores,
			m.FraudAssessments,
			m.DegradedResults,
			m.Predictions,
			m.PredictionLatency,
			m.ModelLifecycle,
		)
	}
	return m
}

// NewNop returns unregistered collectors, for tests and tools.
func NewNop() *Metrics {
	return New(nil)
}
