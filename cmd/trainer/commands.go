package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"credchain-risk/internal/config"
	"credchain-risk/internal/features"
	"credchain-risk/internal/ml"
	"credchain-risk/internal/models"
	"credchain-risk/internal/repository"
	"credchain-risk/internal/training"
	"credchain-risk/pkg/database"
)

var (
	databaseFlag = &cli.StringFlag{
		Name:     "db",
		Usage:    "PostgreSQL connection string of the payment history",
		Sources:  cli.EnvVars("DATABASE_URL"),
		Required: true,
	}

	concurrencyFlag = &cli.IntFlag{
		Name:  "concurrency",
		Usage: "Users featurized in parallel",
		Value: 4,
	}

	modelNameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "Model name recorded in the artifact (defaults to the served name)",
	}

	trainingConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "YAML file overriding training parameters",
		Sources: cli.EnvVars("TRAINING_CONFIG"),
	}

	outputFlag = &cli.StringFlag{
		Name:    "out",
		Usage:   "Directory receiving <type>-<millis> artifact directories",
		Sources: cli.EnvVars("MODEL_DIR"),
	}

	epochsFlag = &cli.IntFlag{
		Name:  "epochs",
		Usage: "Training epochs (optional, overrides config)",
	}

	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "Split and initialization seed (optional, overrides config)",
	}

	artifactFlag = &cli.StringFlag{
		Name:     "artifact",
		Usage:    "Artifact file, artifact directory or model root",
		Required: true,
	}

	buildDatasetCmd = &cli.Command{
		Name:   "build-dataset",
		Usage:  "Featurizes labeled payment history into the sample store",
		Flags:  []cli.Flag{typeFlag, databaseFlag, concurrencyFlag},
		Action: buildDataset,
	}

	trainCmd = &cli.Command{
		Name:  "train",
		Usage: "Trains a model on the sample store and writes an artifact",
		Flags: []cli.Flag{
			typeFlag,
			modelNameFlag,
			trainingConfigFlag,
			outputFlag,
			epochsFlag,
			seedFlag,
		},
		Action: train,
	}

	runsModelFlag = &cli.StringFlag{
		Name:     "name",
		Usage:    "Model name to list runs for",
		Required: true,
	}

	runsLimitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum runs to list",
		Value: 10,
	}

	runsCmd = &cli.Command{
		Name:   "runs",
		Usage:  "Lists the most recent recorded training runs of a model",
		Flags:  []cli.Flag{runsModelFlag, runsLimitFlag},
		Action: listRuns,
	}

	evaluateCmd = &cli.Command{
		Name:   "evaluate",
		Usage:  "Recomputes the metrics of an artifact against the sample store",
		Flags:  []cli.Flag{typeFlag, artifactFlag},
		Action: evaluate,
	}
)

func modelType(cmd *cli.Command) (models.ModelType, error) {
	return models.ParseModelType(cmd.String(typeFlag.Name))
}

func openSamples(cmd *cli.Command) (*repository.SampleStore, error) {
	return repository.NewSampleStore(cmd.String(samplesFlag.Name))
}

func buildDataset(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	typ, err := modelType(cmd)
	if err != nil {
		return err
	}

	db, err := database.NewPostgresDBWithRetry(ctx, cmd.String(databaseFlag.Name), cfg.Stores.ConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	samples, err := openSamples(cmd)
	if err != nil {
		return err
	}
	defer samples.Close()

	builder := training.NewDatasetBuilder(
		features.NewExtractor(cfg.Scoring.Features),
		repository.NewPaymentRepository(db.DB),
		int(cmd.Int(concurrencyFlag.Name)),
		log,
	)
	ds, err := builder.Build(ctx, typ, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build %s dataset: %w", typ, err)
	}
	if err := samples.Replace(ctx, typ, ds); err != nil {
		return fmt.Errorf("failed to store samples: %w", err)
	}

	log.Info("dataset stored",
		zap.String("type", string(typ)),
		zap.Int("samples", ds.Len()),
		zap.String("path", cmd.String(samplesFlag.Name)))
	return nil
}

func trainingConfig(cmd *cli.Command, cfg *config.Config) (training.Config, error) {
	tc := cfg.Training
	if path := cmd.String(trainingConfigFlag.Name); path != "" {
		var err error
		if tc, err = config.LoadTrainingOverrides(path, tc); err != nil {
			return tc, err
		}
	}
	if out := cmd.String(outputFlag.Name); out != "" {
		tc.OutputDir = out
	}
	if epochs := cmd.Int(epochsFlag.Name); epochs > 0 {
		tc.Epochs = int(epochs)
	}
	if cmd.IsSet(seedFlag.Name) {
		tc.Seed = cmd.Int64(seedFlag.Name)
	}
	return tc, tc.Validate()
}

func train(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	typ, err := modelType(cmd)
	if err != nil {
		return err
	}
	tc, err := trainingConfig(cmd, cfg)
	if err != nil {
		return err
	}

	samples, err := openSamples(cmd)
	if err != nil {
		return err
	}
	defer samples.Close()
	ds, err := samples.Load(ctx, typ)
	if err != nil {
		return fmt.Errorf("failed to load samples: %w", err)
	}

	var runs training.RunRecorder
	if cfg.Stores.MongoURI != "" {
		repo, err := repository.NewTrainingRunRepository(ctx, cfg.Stores.MongoURI, cfg.Stores.MongoDatabase, cfg.Stores.ConnectTimeout, log)
		if err != nil {
			log.Warn("training runs will not be recorded", zap.Error(err))
		} else {
			defer repo.Close(context.Background())
			runs = repo
		}
	}

	trainer, err := training.NewTrainer(tc, runs, log)
	if err != nil {
		return err
	}

	modelName := cmd.String(modelNameFlag.Name)
	if modelName == "" {
		modelName = cfg.Serving.CreditModelName
		if typ == models.ModelTypeFraud {
			modelName = cfg.Serving.FraudModelName
		}
	}

	result, err := trainer.Train(ctx, typ, modelName, ds)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"path":    result.Path,
		"version": result.Artifact.Version,
		"metrics": result.Metrics,
	})
}

func evaluate(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	typ, err := modelType(cmd)
	if err != nil {
		return err
	}

	path, err := ml.ResolveArtifact(cmd.String(artifactFlag.Name), typ)
	if err != nil {
		return err
	}
	artifact, err := ml.LoadArtifact(path)
	if err != nil {
		return err
	}

	samples, err := openSamples(cmd)
	if err != nil {
		return err
	}
	defer samples.Close()
	ds, err := samples.Load(ctx, typ)
	if err != nil {
		return fmt.Errorf("failed to load samples: %w", err)
	}

	trainer, err := training.NewTrainer(cfg.Training, nil, log)
	if err != nil {
		return err
	}
	m, err := trainer.Evaluate(artifact, ds)
	if err != nil {
		return err
	}
	return printJSON(m)
}

func listRuns(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Stores.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is not set, no training runs are recorded")
	}
	repo, err := repository.NewTrainingRunRepository(ctx, cfg.Stores.MongoURI, cfg.Stores.MongoDatabase, cfg.Stores.ConnectTimeout, log)
	if err != nil {
		return err
	}
	defer repo.Close(context.Background())

	runs, err := repo.Recent(ctx, cmd.String(runsModelFlag.Name), int64(cmd.Int(runsLimitFlag.Name)))
	if err != nil {
		return fmt.Errorf("failed to list training runs: %w", err)
	}
	return printJSON(runs)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("error encoding result: %w", err)
	}
	return nil
}
