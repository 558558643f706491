// Package training fits the credit and fraud networks and evaluates them.
package training

import (
	"fmt"
	"math"
	"math/rand"

	"credchain-risk/internal/models"
)

// DefaultSplitRatio is the share of samples used for training.
const DefaultSplitRatio = 0.8

// Split shuffles with seed and cuts the dataset into train and validation
// parts. The same seed always yields the same split.
func Split(ds models.TrainingDataset, ratio float64, seed int64) (train, val models.TrainingDataset, err error) {
	n := ds.Len()
	if n < 2 {
		return train, val, fmt.Errorf("need at least 2 samples to split, got %d", n)
	}
	if ratio <= 0 || ratio >= 1 {
		return train, val, fmt.Errorf("split ratio must be in (0,1), got %v", ratio)
	}

	cut := int(math.Round(float64(n) * ratio))
	cut = max(1, min(cut, n-1))

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	pick := func(idx []int) models.TrainingDataset {
		out := models.TrainingDataset{
			Features:   make([][]float64, len(idx)),
			Labels:     make([]float64, len(idx)),
			SplitRatio: ratio,
		}
		for i, j := range idx {
			out.Features[i] = ds.Features[j]
			out.Labels[i] = ds.Labels[j]
		}
		return out
	}
	return pick(perm[:cut]), pick(perm[cut:]), nil
}

// ValidateDataset checks shape, finiteness and label ranges for a model type.
func ValidateDataset(ds models.TrainingDataset, t models.ModelType, width int) error {
	if len(ds.Features) != len(ds.Labels) {
		return fmt.Errorf("%d feature rows for %d labels", len(ds.Features), len(ds.Labels))
	}
	if ds.Len() == 0 {
		return fmt.Errorf("dataset is empty")
	}
	for i, row := range ds.Features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d feature %d is not finite", i, j)
			}
		}
	}
	for i, label := range ds.Labels {
		switch t {
		case models.ModelTypeCredit:
			if label < 0 || label > CreditLabelScale || math.IsNaN(label) {
				return fmt.Errorf("label %d = %v outside [0,%v]", i, label, CreditLabelScale)
			}
		case models.ModelTypeFraud:
			if label != 0 && label != 1 {
				return fmt.Errorf("label %d = %v is not 0 or 1", i, label)
			}
		default:
			return fmt.Errorf("unknown model type %q", t)
		}
	}
	return nil
}
