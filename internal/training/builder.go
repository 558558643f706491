package training

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"credchain-risk/internal/features"
	"credchain-risk/internal/models"
	"credchain-risk/internal/repository"
)

// LabeledHistory is a payment store that also holds training labels.
type LabeledHistory interface {
	Users(ctx context.Context) ([]string, error)
	History(ctx context.Context, userID string, limit int) ([]models.PaymentRecord, error)
	FraudLabels(ctx context.Context, userID string) (map[string]bool, error)
	CreditLabels(ctx context.Context) ([]repository.CreditLabel, error)
}

// DatasetBuilder featurizes labeled payment history into training sets.
type DatasetBuilder struct {
	extractor   *features.Extractor
	source      LabeledHistory
	concurrency int
	logger      *zap.Logger
}

func NewDatasetBuilder(extractor *features.Extractor, source LabeledHistory, concurrency int, logger *zap.Logger) *DatasetBuilder {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &DatasetBuilder{
		extractor:   extractor,
		source:      source,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Build dispatches on the model type.
func (b *DatasetBuilder) Build(ctx context.Context, typ models.ModelType, now time.Time) (models.TrainingDataset, error) {
	switch typ {
	case models.ModelTypeCredit:
		return b.BuildCredit(ctx, now)
	case models.ModelTypeFraud:
		return b.BuildFraud(ctx)
	}
	return models.TrainingDataset{}, fmt.Errorf("unknown model type %q", typ)
}

// BuildCredit produces one row per labeled user with a non-empty history.
// Labels stay on the 0-1000 scale.
func (b *DatasetBuilder) BuildCredit(ctx context.Context, now time.Time) (models.TrainingDataset, error) {
	labels, err := b.source.CreditLabels(ctx)
	if err != nil {
		return models.TrainingDataset{}, fmt.Errorf("failed to load credit labels: %w", err)
	}

	rows := make([][]float64, len(labels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, label := range labels {
		g.Go(func() error {
			history, err := b.source.History(gctx, label.UserID, 0)
			if err != nil {
				return fmt.Errorf("history of %s: %w", label.UserID, err)
			}
			if len(history) > 0 {
				rows[i] = b.extractor.Credit(history, now).Vector()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.TrainingDataset{}, err
	}

	var ds models.TrainingDataset
	for i, row := range rows {
		if row == nil {
			continue
		}
		ds.Features = append(ds.Features, row)
		ds.Labels = append(ds.Labels, labels[i].Score)
	}
	b.logger.Info("credit dataset built",
		zap.Int("labeled_users", len(labels)),
		zap.Int("samples", ds.Len()))
	return ds, nil
}

// BuildFraud replays every user's history and labels each payment with its
// stored fraud flag.
func (b *DatasetBuilder) BuildFraud(ctx context.Context) (models.TrainingDataset, error) {
	users, err := b.source.Users(ctx)
	if err != nil {
		return models.TrainingDataset{}, fmt.Errorf("failed to list users: %w", err)
	}

	perUser := make([]models.TrainingDataset, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, user := range users {
		g.Go(func() error {
			history, err := b.source.History(gctx, user, 0)
			if err != nil {
				return fmt.Errorf("history of %s: %w", user, err)
			}
			flags, err := b.source.FraudLabels(gctx, user)
			if err != nil {
				return fmt.Errorf("labels of %s: %w", user, err)
			}

			ordered, vectors := b.extractor.Replay(history)
			ds := models.TrainingDataset{Features: vectors, Labels: make([]float64, len(vectors))}
			for j, r := range ordered {
				if flags[r.ID] {
					ds.Labels[j] = 1
				}
			}
			perUser[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.TrainingDataset{}, err
	}

	var ds models.TrainingDataset
	var positives int
	for _, u := range perUser {
		ds.Features = append(ds.Features, u.Features...)
		ds.Labels = append(ds.Labels, u.Labels...)
	}
	for _, l := range ds.Labels {
		if l == 1 {
			positives++
		}
	}
	b.logger.Info("fraud dataset built",
		zap.Int("users", len(users)),
		zap.Int("samples", ds.Len()),
		zap.Int("positives", positives))
	return ds, nil
}
