package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"credchain-risk/internal/models"
)

const trainingRunsCollection = "training_runs"

// TrainingRunRepository logs trainer invocations to MongoDB.
type TrainingRunRepository struct {
	client *mongo.Client
	runs   *mongo.Collection
	logger *zap.Logger
}

// NewTrainingRunRepository connects to uri and retries the initial ping
// until maxElapsed passes.
func NewTrainingRunRepository(ctx context.Context, uri, database string, maxElapsed time.Duration, logger *zap.Logger) (*TrainingRunRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	ping := func() error { return client.Ping(ctx, readpref.Primary()) }
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &TrainingRunRepository{
		client: client,
		runs:   client.Database(database).Collection(trainingRunsCollection),
		logger: logger,
	}, nil
}

func (r *TrainingRunRepository) RecordRun(ctx context.Context, run *models.TrainingRun) error {
	if _, err := r.runs.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("failed to record training run %s: %w", run.ID, err)
	}
	r.logger.Debug("training run recorded", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
	return nil
}

// Recent returns the latest runs of a model, newest first.
func (r *TrainingRunRepository) Recent(ctx context.Context, modelName string, limit int64) ([]models.TrainingRun, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.runs.Find(ctx, bson.M{"model_name": modelName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query training runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []models.TrainingRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *TrainingRunRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
