package training

import (
	"fmt"
	"math"
	"sort"

	"credchain-risk/internal/models"
)

// DefaultRegressionTolerance counts a regression prediction as accurate
// when it is within this distance of the label, on the [0,1] scale.
const DefaultRegressionTolerance = 0.1

// DefaultEvalThreshold is the training-time decision threshold. Serving
// uses its own, stricter fraud threshold.
const DefaultEvalThreshold = 0.5

func checkLengths(preds, labels []float64) error {
	if len(preds) != len(labels) {
		return fmt.Errorf("%d predictions for %d labels", len(preds), len(labels))
	}
	if len(preds) == 0 {
		return fmt.Errorf("no predictions to evaluate")
	}
	return nil
}

// EvaluateRegression computes MSE, MAE, R² and tolerance accuracy.
// R² is 0 when labels have no variance.
func EvaluateRegression(preds, labels []float64, tolerance float64) (*models.RegressionMetrics, error) {
	if err := checkLengths(preds, labels); err != nil {
		return nil, err
	}
	n := float64(len(preds))

	var mean float64
	for _, y := range labels {
		mean += y
	}
	mean /= n

	var sse, sae, sst float64
	var hits int
	for i, p := range preds {
		d := p - labels[i]
		sse += d * d
		sae += math.Abs(d)
		if math.Abs(d) <= tolerance {
			hits++
		}
		m := labels[i] - mean
		sst += m * m
	}

	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}
	return &models.RegressionMetrics{
		MSE:      sse / n,
		MAE:      sae / n,
		R2:       r2,
		Accuracy: float64(hits) / n,
	}, nil
}

// EvaluateClassification computes confusion-matrix metrics at threshold
// (a prediction above it is positive) plus a rank-based AUC. Ratios with
// an empty denominator are 0.
func EvaluateClassification(preds, labels []float64, threshold float64) (*models.ClassificationMetrics, error) {
	if err := checkLengths(preds, labels); err != nil {
		return nil, err
	}

	var truePositives, falsePositives, trueNegatives, falseNegatives float64
	for i, p := range preds {
		predicted := p > threshold
		actual := labels[i] > 0.5

		switch {
		case predicted && actual:
			truePositives++
		case predicted && !actual:
			falsePositives++
		case !predicted && !actual:
			trueNegatives++
		default:
			falseNegatives++
		}
	}

	precision := ratio(truePositives, truePositives+falsePositives)
	recall := ratio(truePositives, truePositives+falseNegatives)
	return &models.ClassificationMetrics{
		Accuracy:  (truePositives + trueNegatives) / float64(len(preds)),
		Precision: precision,
		Recall:    recall,
		F1:        ratio(2*precision*recall, precision+recall),
		AUC:       AUC(preds, labels),
		Threshold: threshold,
	}, nil
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// AUC is the Mann-Whitney statistic: the probability that a random positive
// ranks above a random negative, ties counting half. It is 0.5 when either
// class is missing.
func AUC(preds, labels []float64) float64 {
	idx := make([]int, len(preds))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return preds[idx[a]] < preds[idx[b]] })

	var positives, negatives, rankSum float64
	for start := 0; start < len(idx); {
		end := start
		for end < len(idx) && preds[idx[end]] == preds[idx[start]] {
			end++
		}
		// ranks are 1-based; tied values share their average rank
		avgRank := float64(start+end+1) / 2
		for _, i := range idx[start:end] {
			if labels[i] > 0.5 {
				positives++
				rankSum += avgRank
			} else {
				negatives++
			}
		}
		start = end
	}

	if positives == 0 || negatives == 0 {
		return 0.5
	}
	return (rankSum - positives*(positives+1)/2) / (positives * negatives)
}
