package training

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"credchain-risk/internal/features"
	"credchain-risk/internal/ml"
	"credchain-risk/internal/models"
)

// CreditLabelScale is the upper bound of credit score labels. The network
// learns label/CreditLabelScale and serving multiplies back.
const CreditLabelScale = 1000.0

type Config struct {
	LearningRate        float64 `yaml:"learningRate"`
	Epochs              int     `yaml:"epochs"`
	BatchSize           int     `yaml:"batchSize"`
	SplitRatio          float64 `yaml:"splitRatio"`
	Seed                int64   `yaml:"seed"`
	Patience            int     `yaml:"patience"`
	EvalThreshold       float64 `yaml:"evalThreshold"`
	RegressionTolerance float64 `yaml:"regressionTolerance"`
	NormalizationMin    float64 `yaml:"normalizationMin"`
	NormalizationMax    float64 `yaml:"normalizationMax"`
	OutputDir           string  `yaml:"outputDir"`
}

func DefaultConfig() Config {
	return Config{
		LearningRate:        0.001,
		Epochs:              100,
		BatchSize:           32,
		SplitRatio:          DefaultSplitRatio,
		Seed:                42,
		Patience:            10,
		EvalThreshold:       DefaultEvalThreshold,
		RegressionTolerance: DefaultRegressionTolerance,
		NormalizationMin:    0,
		NormalizationMax:    100,
		OutputDir:           "models",
	}
}

func (c Config) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive")
	}
	if c.SplitRatio <= 0 || c.SplitRatio >= 1 {
		return fmt.Errorf("split ratio must be in (0,1)")
	}
	if c.EvalThreshold <= 0 || c.EvalThreshold >= 1 {
		return fmt.Errorf("evaluation threshold must be in (0,1)")
	}
	if c.NormalizationMax <= c.NormalizationMin {
		return fmt.Errorf("normalization bounds are empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir is required")
	}
	return nil
}

func (c Config) normalization() ml.Normalization {
	return ml.Normalization{Min: c.NormalizationMin, Max: c.NormalizationMax}
}

// RunRecorder stores a log entry per training run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.TrainingRun) error
}

type Trainer struct {
	cfg    Config
	runs   RunRecorder
	logger *zap.Logger
	now    func() time.Time
}

// NewTrainer creates a trainer. runs may be nil.
func NewTrainer(cfg Config, runs RunRecorder, logger *zap.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Trainer{cfg: cfg, runs: runs, logger: logger, now: time.Now}, nil
}

type Result struct {
	Path     string
	Artifact *ml.Artifact
	Metrics  *models.EvaluationMetrics
	History  []ml.EpochStats
	Run      *models.TrainingRun
}

// Layout returns the input width, architecture and loss for a model type.
func Layout(t models.ModelType) (int, []ml.LayerSpec, ml.Loss, error) {
	switch t {
	case models.ModelTypeCredit:
		return features.CreditVectorSize, ml.CreditArchitecture(), ml.MeanSquaredError, nil
	case models.ModelTypeFraud:
		return features.FraudVectorSize, ml.FraudArchitecture(), ml.BinaryCrossEntropy, nil
	}
	return 0, nil, "", fmt.Errorf("unknown model type %q", t)
}

// Train fits a model of type t on ds, evaluates it on the validation split
// and writes the artifact to a timestamped directory. Nothing is written
// when any step fails.
func (t *Trainer) Train(ctx context.Context, typ models.ModelType, name string, ds models.TrainingDataset) (*Result, error) {
	started := t.now()
	run := &models.TrainingRun{
		ID:        uuid.New().String(),
		ModelName: name,
		Type:      typ,
		Version:   fmt.Sprintf("%d", started.UnixMilli()),
		Samples:   ds.Len(),
		Epochs:    t.cfg.Epochs,
		Seed:      t.cfg.Seed,
		StartedAt: started,
	}

	result, err := t.train(typ, name, ds, run, started)
	run.FinishedAt = t.now()
	if err != nil {
		run.Status = models.TrainingStatusFailed
		run.Error = err.Error()
		t.logger.Error("training failed",
			zap.String("model", name),
			zap.String("type", string(typ)),
			zap.Error(err))
	} else {
		run.Status = models.TrainingStatusSucceeded
		result.Run = run
		t.logger.Info("training complete",
			zap.String("model", name),
			zap.String("path", result.Path),
			zap.Int("samples", run.Samples),
			zap.Float64("final_loss", run.FinalLoss))
	}
	t.recordRun(ctx, run)
	return result, err
}

func (t *Trainer) train(typ models.ModelType, name string, ds models.TrainingDataset, run *models.TrainingRun, started time.Time) (*Result, error) {
	width, arch, loss, err := Layout(typ)
	if err != nil {
		return nil, &models.TrainingError{Stage: "configure", Err: err}
	}
	if err := ValidateDataset(ds, typ, width); err != nil {
		return nil, &models.TrainingError{Stage: "validate", Err: err}
	}

	ratio := ds.SplitRatio
	if ratio == 0 {
		ratio = t.cfg.SplitRatio
	}
	train, val, err := Split(ds, ratio, t.cfg.Seed)
	if err != nil {
		return nil, &models.TrainingError{Stage: "split", Err: err}
	}

	norm := t.cfg.normalization()
	trainX, valX := norm.ApplyAll(train.Features), norm.ApplyAll(val.Features)
	trainY, valY := scaleLabels(typ, train.Labels), scaleLabels(typ, val.Labels)

	net, err := ml.NewNetwork(width, arch, t.cfg.Seed)
	if err != nil {
		return nil, &models.TrainingError{Stage: "build", Err: err}
	}

	t.logger.Info("training started",
		zap.String("model", name),
		zap.String("type", string(typ)),
		zap.Int("train_samples", train.Len()),
		zap.Int("validation_samples", val.Len()),
		zap.Int("params", net.ParamCount()))

	history, err := net.Fit(trainX, trainY, valX, valY, ml.FitConfig{
		Epochs:       t.cfg.Epochs,
		BatchSize:    t.cfg.BatchSize,
		LearningRate: t.cfg.LearningRate,
		Loss:         loss,
		Seed:         t.cfg.Seed,
		Patience:     t.cfg.Patience,
		OnEpoch: func(s ml.EpochStats) {
			t.logger.Debug("epoch",
				zap.String("model", name),
				zap.Int("epoch", s.Epoch),
				zap.Float64("loss", s.Loss),
				zap.Float64("val_loss", s.ValLoss))
		},
	})
	if err != nil {
		return nil, &models.TrainingError{Stage: "fit", Err: err}
	}
	if len(history) > 0 {
		run.FinalLoss = history[len(history)-1].Loss
	}

	preds, err := net.PredictBatch(valX)
	if err != nil {
		return nil, &models.TrainingError{Stage: "evaluate", Err: err}
	}
	metrics, err := t.metrics(typ, preds, valY)
	if err != nil {
		return nil, &models.TrainingError{Stage: "evaluate", Err: err}
	}
	run.Metrics = metrics

	artifact := &ml.Artifact{
		Name:          name,
		Version:       run.Version,
		Type:          typ,
		CreatedAt:     started.UTC(),
		Normalization: norm,
		Metrics:       metrics,
		History:       history,
		Network:       net,
	}
	path, err := ml.SaveArtifact(ml.ArtifactDir(t.cfg.OutputDir, typ, started), artifact)
	if err != nil {
		return nil, &models.TrainingError{Stage: "persist", Err: err}
	}
	run.ArtifactPath = path

	return &Result{Path: path, Artifact: artifact, Metrics: metrics, History: history}, nil
}

// Evaluate recomputes the metrics of an artifact against a labelled dataset.
func (t *Trainer) Evaluate(a *ml.Artifact, ds models.TrainingDataset) (*models.EvaluationMetrics, error) {
	if err := ValidateDataset(ds, a.Type, a.InputSize()); err != nil {
		return nil, err
	}
	preds, err := a.Network.PredictBatch(a.Normalization.ApplyAll(ds.Features))
	if err != nil {
		return nil, err
	}
	return t.metrics(a.Type, preds, scaleLabels(a.Type, ds.Labels))
}

func (t *Trainer) metrics(typ models.ModelType, preds, labels []float64) (*models.EvaluationMetrics, error) {
	out := &models.EvaluationMetrics{Samples: len(preds), EvaluatedAt: t.now().UTC()}
	switch typ {
	case models.ModelTypeCredit:
		m, err := EvaluateRegression(preds, labels, t.cfg.RegressionTolerance)
		if err != nil {
			return nil, err
		}
		out.Regression = m
	case models.ModelTypeFraud:
		m, err := EvaluateClassification(preds, labels, t.cfg.EvalThreshold)
		if err != nil {
			return nil, err
		}
		out.Classification = m
	default:
		return nil, fmt.Errorf("unknown model type %q", typ)
	}
	return out, nil
}

func scaleLabels(typ models.ModelType, labels []float64) []float64 {
	if typ != models.ModelTypeCredit {
		return labels
	}
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = l / CreditLabelScale
	}
	return out
}

func (t *Trainer) recordRun(ctx context.Context, run *models.TrainingRun) {
	if t.runs == nil {
		return
	}
	if err := t.runs.RecordRun(ctx, run); err != nil {
		t.logger.Warn("failed to record training run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
