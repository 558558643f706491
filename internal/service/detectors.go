package service

import (
	"fmt"
	"math"
	"sort"

	"credchain-risk/internal/estimator"
	"credchain-risk/internal/models"
)

const (
	// zScoreCap bounds a single feature's contribution to the anomaly score.
	zScoreCap = 6.0
	// outlierSpan is how many radii past the boundary map to a score of 1.
	outlierSpan       = 3.0
	outlierPercentile = 0.95
)

// baseline holds per-feature statistics of a user's past transactions.
type baseline struct {
	mean []float64
	std  []float64
	n    int
}

func fitBaseline(vectors [][]float64) (baseline, error) {
	if len(vectors) == 0 {
		return baseline{}, nil
	}
	width := len(vectors[0])
	b := baseline{mean: make([]float64, width), std: make([]float64, width), n: len(vectors)}
	for i, v := range vectors {
		if len(v) != width {
			return baseline{}, fmt.Errorf("baseline row %d has %d features, want %d", i, len(v), width)
		}
		for j, x := range v {
			b.mean[j] += x
		}
	}
	for j := range b.mean {
		b.mean[j] /= float64(b.n)
	}
	for _, v := range vectors {
		for j, x := range v {
			d := x - b.mean[j]
			b.std[j] += d * d
		}
	}
	for j := range b.std {
		b.std[j] = math.Sqrt(b.std[j] / float64(b.n))
		// constant features deviate in raw units
		if b.std[j] == 0 {
			b.std[j] = 1
		}
	}
	return b, nil
}

func (b baseline) z(j int, x float64) float64 {
	return math.Abs(x-b.mean[j]) / b.std[j]
}

func (b baseline) check(features []float64) error {
	if len(features) != len(b.mean) {
		return models.NewInputError("features", "expected %d values, got %d", len(b.mean), len(features))
	}
	return nil
}

func sampleConfidence(n int) float64 {
	return math.Min(0.95, 0.5+0.05*float64(n))
}

// ZScoreDetector scores how far a transaction sits from the user's usual
// values, feature by feature.
type ZScoreDetector struct {
	minSamples int
	base       baseline
}

func NewZScoreDetector(minSamples int) *ZScoreDetector {
	return &ZScoreDetector{minSamples: minSamples}
}

func (d *ZScoreDetector) Fit(vectors [][]float64) error {
	b, err := fitBaseline(vectors)
	if err != nil {
		return err
	}
	d.base = b
	return nil
}

func (d *ZScoreDetector) fitted() bool { return d.base.n >= d.minSamples && d.base.n > 0 }

func (d *ZScoreDetector) Name() string         { return "zscore-anomaly" }
func (d *ZScoreDetector) Kind() estimator.Kind { return estimator.KindAnomaly }

// Predict returns the mean capped z-score scaled to [0,1]. Without enough
// baseline it returns a neutral 0.
func (d *ZScoreDetector) Predict(features []float64) (estimator.Prediction, error) {
	if !d.fitted() {
		return estimator.Prediction{}, nil
	}
	if err := d.base.check(features); err != nil {
		return estimator.Prediction{}, err
	}
	var sum float64
	for j, x := range features {
		sum += math.Min(d.base.z(j, x), zScoreCap)
	}
	mean := sum / float64(len(features))
	return estimator.Prediction{
		Value:      estimator.Clamp01(mean / zScoreCap),
		Confidence: sampleConfidence(d.base.n),
		Fitted:     true,
	}, nil
}

func (d *ZScoreDetector) Explain(features []float64, p estimator.Prediction) string {
	if !p.Fitted {
		return "not enough history for anomaly detection"
	}
	worst, worstZ := -1, 0.0
	for j, x := range features {
		if z := d.base.z(j, x); z > worstZ {
			worst, worstZ = j, z
		}
	}
	if worst < 0 {
		return fmt.Sprintf("anomaly score %.2f", p.Value)
	}
	return fmt.Sprintf("anomaly score %.2f, largest deviation on feature %d (z=%.1f)", p.Value, worst, worstZ)
}

// CentroidDetector flags transactions far from the centroid of the user's
// history, relative to the 95th percentile of historical distances.
type CentroidDetector struct {
	minSamples int
	base       baseline
	radius     float64
}

func NewCentroidDetector(minSamples int) *CentroidDetector {
	return &CentroidDetector{minSamples: minSamples}
}

func (d *CentroidDetector) Fit(vectors [][]float64) error {
	b, err := fitBaseline(vectors)
	if err != nil {
		return err
	}
	d.base = b
	if b.n == 0 {
		return nil
	}
	distances := make([]float64, len(vectors))
	for i, v := range vectors {
		distances[i] = d.distance(v)
	}
	d.radius = percentile(distances, outlierPercentile)
	if d.radius <= 0 {
		d.radius = 1
	}
	return nil
}

// distance is the root mean square of standardized deviations.
func (d *CentroidDetector) distance(v []float64) float64 {
	var sum float64
	for j, x := range v {
		z := d.base.z(j, x)
		sum += z * z
	}
	return math.Sqrt(sum / float64(len(v)))
}

func (d *CentroidDetector) fitted() bool { return d.base.n >= d.minSamples && d.base.n > 0 }

func (d *CentroidDetector) Name() string         { return "centroid-outlier" }
func (d *CentroidDetector) Kind() estimator.Kind { return estimator.KindOutlier }

// Predict is 0 inside the radius and grows linearly to 1 at 1+outlierSpan radii.
func (d *CentroidDetector) Predict(features []float64) (estimator.Prediction, error) {
	if !d.fitted() {
		return estimator.Prediction{}, nil
	}
	if err := d.base.check(features); err != nil {
		return estimator.Prediction{}, err
	}
	ratio := d.distance(features) / d.radius
	return estimator.Prediction{
		Value:      estimator.Clamp01((ratio - 1) / outlierSpan),
		Confidence: sampleConfidence(d.base.n),
		Fitted:     true,
	}, nil
}

func (d *CentroidDetector) Explain(features []float64, p estimator.Prediction) string {
	if !p.Fitted {
		return "not enough history for outlier detection"
	}
	return fmt.Sprintf("distance %.2f against a usual radius of %.2f", d.distance(features), d.radius)
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
