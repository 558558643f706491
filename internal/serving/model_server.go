// Package serving loads trained artifacts and answers predictions.
package serving

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"credchain-risk/internal/estimator"
	"credchain-risk/internal/ml"
	"credchain-risk/internal/models"
	"credchain-risk/pkg/metrics"
)

// ErrModelNotFound is returned by lifecycle operations on unknown names.
var ErrModelNotFound = errors.New("model not found")

const maxAcquireAttempts = 3

type Config struct {
	CreditModelName string
	FraudModelName  string
	// Normalization applies to artifacts that carry no bounds of their own.
	Normalization    ml.Normalization
	FraudThreshold   float64
	BatchConcurrency int
}

func DefaultConfig() Config {
	return Config{
		CreditModelName:  "credit-score",
		FraudModelName:   "fraud-detection",
		Normalization:    ml.DefaultNormalization(),
		FraudThreshold:   0.7,
		BatchConcurrency: 8,
	}
}

type Prediction struct {
	Model          string           `json:"model"`
	Type           models.ModelType `json:"type"`
	Version        string           `json:"version"`
	Value          float64          `json:"value"`
	Confidence     float64          `json:"confidence"`
	ProcessingTime time.Duration    `json:"-"`
}

type CreditPrediction struct {
	Score          int                `json:"score"`
	Scale          models.ScoreScale  `json:"scale"`
	Bounds         models.ScoreBounds `json:"bounds"`
	Confidence     float64            `json:"confidence"`
	Model          string             `json:"model"`
	Version        string             `json:"version"`
	ProcessingTime time.Duration      `json:"-"`
}

type FraudPrediction struct {
	IsFraud        bool            `json:"isFraud"`
	Probability    float64         `json:"probability"`
	Confidence     float64         `json:"confidence"`
	RiskLevel      models.Severity `json:"riskLevel"`
	Model          string          `json:"model"`
	Version        string          `json:"version"`
	ProcessingTime time.Duration   `json:"-"`
}

// ModelServer owns the model registry: it is the only writer of entry status.
type ModelServer struct {
	cfg       Config
	repo      Repository
	lifecycle sync.Mutex
	load      func(path string) (*ml.Artifact, error)
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewModelServer(cfg Config, repo Repository, m *metrics.Metrics, logger *zap.Logger) *ModelServer {
	if repo == nil {
		repo = NewSnapshotRepository()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if !cfg.Normalization.Valid() {
		cfg.Normalization = ml.DefaultNormalization()
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}
	return &ModelServer{
		cfg:     cfg,
		repo:    repo,
		load:    ml.LoadArtifact,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *ModelServer) Config() Config { return s.cfg }

// LoadModel registers name as loading, loads the artifact and marks it
// ready or error. Names already registered must go through ReloadModel.
func (s *ModelServer) LoadModel(name, path string, typ models.ModelType) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if existing, ok := s.repo.Get(name); ok {
		return fmt.Errorf("model %s already registered with status %s, use reload", name, existing.Info.Status)
	}

	info := models.ModelInfo{
		Name:        name,
		Type:        typ,
		Path:        path,
		Status:      models.ModelStatusLoading,
		LastUpdated: s.now(),
	}
	s.repo.Put(&Entry{Info: info})
	s.logger.Info("loading model", zap.String("model", name), zap.String("path", path))

	artifact, err := s.loadArtifact(path, typ)
	if err != nil {
		info.Status = models.ModelStatusError
		info.Error = err.Error()
		info.LastUpdated = s.now()
		s.repo.Put(&Entry{Info: info})
		s.metrics.ModelLifecycle.WithLabelValues(name, "load", "error").Inc()
		s.logger.Error("model load failed", zap.String("model", name), zap.Error(err))
		return err
	}

	s.repo.Put(s.readyEntry(info, artifact))
	s.metrics.ModelLifecycle.WithLabelValues(name, "load", "ready").Inc()
	s.logger.Info("model ready",
		zap.String("model", name),
		zap.String("version", artifact.Version))
	return nil
}

// ReloadModel loads a new artifact for a registered name and installs it
// before disposing the old one. An empty path reuses the registered path.
// On failure a ready model keeps serving.
func (s *ModelServer) ReloadModel(name, path string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	existing, ok := s.repo.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	info := existing.Info
	if path != "" {
		info.Path = path
	}

	artifact, err := s.loadArtifact(info.Path, info.Type)
	if err != nil {
		s.metrics.ModelLifecycle.WithLabelValues(name, "reload", "error").Inc()
		if existing.Info.Status == models.ModelStatusReady {
			s.logger.Warn("model reload failed, keeping current version",
				zap.String("model", name),
				zap.String("version", existing.Info.Version),
				zap.Error(err))
			return err
		}
		info.Status = models.ModelStatusError
		info.Error = err.Error()
		info.LastUpdated = s.now()
		s.repo.Put(&Entry{Info: info})
		s.logger.Error("model reload failed", zap.String("model", name), zap.Error(err))
		return err
	}

	s.repo.Put(s.readyEntry(info, artifact))
	if existing.model != nil {
		existing.model.dispose()
	}
	s.metrics.ModelLifecycle.WithLabelValues(name, "reload", "ready").Inc()
	s.logger.Info("model reloaded",
		zap.String("model", name),
		zap.String("previous_version", existing.Info.Version),
		zap.String("version", artifact.Version))
	return nil
}

// UnloadModel removes a model and disposes its artifact.
func (s *ModelServer) UnloadModel(name string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	entry, ok := s.repo.Delete(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	if entry.model != nil {
		entry.model.dispose()
	}
	s.metrics.ModelLifecycle.WithLabelValues(name, "unload", "ok").Inc()
	s.logger.Info("model unloaded", zap.String("model", name))
	return nil
}

// Close unloads every model.
func (s *ModelServer) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	for _, e := range s.repo.List() {
		s.repo.Delete(e.Info.Name)
		if e.model != nil {
			e.model.dispose()
		}
	}
}

func (s *ModelServer) readyEntry(info models.ModelInfo, a *ml.Artifact) *Entry {
	info.Status = models.ModelStatusReady
	info.Error = ""
	info.Version = a.Version
	info.InputSize = a.InputSize()
	info.Metrics = a.Metrics
	info.LastUpdated = s.now()
	return &Entry{Info: info, model: newServedModel(a)}
}

func (s *ModelServer) loadArtifact(path string, typ models.ModelType) (*ml.Artifact, error) {
	resolved, err := ml.ResolveArtifact(path, typ)
	if err != nil {
		return nil, err
	}
	artifact, err := s.load(resolved)
	if err != nil {
		return nil, err
	}
	if artifact.Type != typ {
		return nil, fmt.Errorf("artifact %s is a %s model, want %s", resolved, artifact.Type, typ)
	}
	return artifact, nil
}

func (s *ModelServer) IsModelReady(name string) bool {
	e, ok := s.repo.Get(name)
	return ok && e.Info.Status == models.ModelStatusReady
}

func (s *ModelServer) GetModel(name string) (models.ModelInfo, bool) {
	e, ok := s.repo.Get(name)
	if !ok {
		return models.ModelInfo{}, false
	}
	return e.Info, true
}

func (s *ModelServer) ListModels() []models.ModelInfo {
	entries := s.repo.List()
	out := make([]models.ModelInfo, len(entries))
	for i, e := range entries {
		out[i] = e.Info
	}
	return out
}

// ModelMetrics returns the evaluation metrics stored with the artifact.
func (s *ModelServer) ModelMetrics(name string) (*models.EvaluationMetrics, error) {
	e, ok := s.repo.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return e.Info.Metrics, nil
}

// Predict runs a ready model on raw features. Features are min-max scaled
// with the artifact's fixed bounds.
func (s *ModelServer) Predict(name string, features []float64) (*Prediction, error) {
	start := s.now()
	p, err := s.predict(name, features)
	elapsed := s.now().Sub(start)

	outcome := "ok"
	if err != nil {
		outcome = errorKind(err)
	}
	s.metrics.Predictions.WithLabelValues(name, outcome).Inc()
	s.metrics.PredictionLatency.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		return nil, err
	}
	p.ProcessingTime = elapsed
	return p, nil
}

func (s *ModelServer) predict(name string, features []float64) (*Prediction, error) {
	if err := validateFeatures(features); err != nil {
		return nil, err
	}

	// a reload may dispose the artifact between Get and acquire; the next
	// pass sees the replacement
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		entry, ok := s.repo.Get(name)
		if !ok {
			return nil, &models.ModelNotReadyError{Model: name}
		}
		if entry.Info.Status != models.ModelStatusReady || entry.model == nil {
			return nil, &models.ModelNotReadyError{Model: name, Status: entry.Info.Status}
		}

		artifact, ok := entry.model.acquire()
		if !ok {
			continue
		}
		p, err := s.infer(entry.Info, artifact, features)
		entry.model.release()
		return p, err
	}
	return nil, &models.ModelNotReadyError{Model: name, Status: models.ModelStatusLoading}
}

func (s *ModelServer) infer(info models.ModelInfo, a *ml.Artifact, features []float64) (*Prediction, error) {
	if len(features) != a.InputSize() {
		return nil, models.NewInputError("features", "model %s expects %d values, got %d", info.Name, a.InputSize(), len(features))
	}
	norm := a.Normalization
	if !norm.Valid() {
		norm = s.cfg.Normalization
	}

	value, err := a.Network.Predict(norm.Apply(features))
	if err != nil {
		return nil, &models.ComputationError{Estimator: info.Name, Err: err}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, &models.ComputationError{Estimator: info.Name, Err: errors.New("prediction is not finite")}
	}

	return &Prediction{
		Model:      info.Name,
		Type:       a.Type,
		Version:    a.Version,
		Value:      value,
		Confidence: VarianceConfidence(features),
	}, nil
}

// PredictCredit rescales the regressor output to the model scale [0,1000].
func (s *ModelServer) PredictCredit(features []float64) (*CreditPrediction, error) {
	p, err := s.predictTyped(s.cfg.CreditModelName, models.ModelTypeCredit, features)
	if err != nil {
		return nil, err
	}
	bounds, _ := models.ScaleModel.Bounds()
	return &CreditPrediction{
		Score:          bounds.Clamp(int(math.Round(p.Value * float64(bounds.Max)))),
		Scale:          models.ScaleModel,
		Bounds:         bounds,
		Confidence:     p.Confidence,
		Model:          p.Model,
		Version:        p.Version,
		ProcessingTime: p.ProcessingTime,
	}, nil
}

// PredictFraud applies the production threshold, exclusive.
func (s *ModelServer) PredictFraud(features []float64) (*FraudPrediction, error) {
	p, err := s.predictTyped(s.cfg.FraudModelName, models.ModelTypeFraud, features)
	if err != nil {
		return nil, err
	}
	return &FraudPrediction{
		IsFraud:        p.Value > s.cfg.FraudThreshold,
		Probability:    p.Value,
		Confidence:     p.Confidence,
		RiskLevel:      models.SeverityFor(p.Value),
		Model:          p.Model,
		Version:        p.Version,
		ProcessingTime: p.ProcessingTime,
	}, nil
}

func (s *ModelServer) predictTyped(name string, typ models.ModelType, features []float64) (*Prediction, error) {
	p, err := s.Predict(name, features)
	if err != nil {
		return nil, err
	}
	if p.Type != typ {
		return nil, &models.ComputationError{Estimator: name, Err: fmt.Errorf("model serves %s predictions, want %s", p.Type, typ)}
	}
	return p, nil
}

type BatchRequest struct {
	ID        string    `json:"id"`
	ModelType string    `json:"modelType"`
	Features  []float64 `json:"features"`
}

type BatchResult struct {
	ID             string            `json:"id"`
	ModelType      string            `json:"modelType"`
	Status         string            `json:"status"`
	Credit         *CreditPrediction `json:"credit,omitempty"`
	Fraud          *FraudPrediction  `json:"fraud,omitempty"`
	ProcessingTime float64           `json:"processingTime"`
	Error          string            `json:"error,omitempty"`
	ErrorKind      string            `json:"errorKind,omitempty"`
}

// PredictBatch answers every request independently. Failed items carry
// their error; the rest of the batch is unaffected.
func (s *ModelServer) PredictBatch(requests []BatchRequest) []BatchResult {
	results := make([]BatchResult, len(requests))

	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, req := range requests {
		g.Go(func() error {
			results[i] = s.predictOne(req)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *ModelServer) predictOne(req BatchRequest) (res BatchResult) {
	res = BatchResult{ID: req.ID, ModelType: req.ModelType, Status: "ok"}
	defer func() {
		if r := recover(); r != nil {
			res.Status, res.Error, res.ErrorKind = "error", fmt.Sprintf("panic: %v", r), "internal"
		}
	}()

	fail := func(err error) BatchResult {
		res.Status = "error"
		res.Error = err.Error()
		res.ErrorKind = errorKind(err)
		return res
	}

	typ, err := models.ParseModelType(req.ModelType)
	if err != nil {
		return fail(err)
	}
	switch typ {
	case models.ModelTypeCredit:
		p, err := s.PredictCredit(req.Features)
		if err != nil {
			return fail(err)
		}
		res.Credit = p
		res.ProcessingTime = Millis(p.ProcessingTime)
	case models.ModelTypeFraud:
		p, err := s.PredictFraud(req.Features)
		if err != nil {
			return fail(err)
		}
		res.Fraud = p
		res.ProcessingTime = Millis(p.ProcessingTime)
	}
	return res
}

// VarianceConfidence penalizes spread in the raw features:
// max(0.1, 0.8 - min(spread*0.1, 0.3)). The spread is the population
// standard deviation of the vector.
func VarianceConfidence(features []float64) float64 {
	if len(features) == 0 {
		return 0.1
	}
	var mean float64
	for _, v := range features {
		mean += v
	}
	mean /= float64(len(features))

	var ss float64
	for _, v := range features {
		d := v - mean
		ss += d * d
	}
	spread := math.Sqrt(ss / float64(len(features)))
	return math.Max(0.1, 0.8-math.Min(spread*0.1, 0.3))
}

func validateFeatures(features []float64) error {
	if len(features) == 0 {
		return models.NewInputError("features", "must be a non-empty array of numbers")
	}
	for i, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.NewInputError("features", "value %d is not a finite number", i)
		}
	}
	return nil
}

func errorKind(err error) string {
	var inputErr *models.InputError
	var notReady *models.ModelNotReadyError
	switch {
	case errors.As(err, &inputErr):
		return "input"
	case errors.As(err, &notReady):
		return "model_not_ready"
	}
	return "internal"
}

// Millis converts a duration to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// networkEstimator exposes a served model through the Estimator interface.
type networkEstimator struct {
	server *ModelServer
	name   string
	kind   estimator.Kind
}

// FraudEstimator serves the fraud network as an ensemble member. It
// fails with ModelNotReadyError while the model is not ready.
func (s *ModelServer) FraudEstimator() estimator.Estimator {
	return networkEstimator{server: s, name: s.cfg.FraudModelName, kind: estimator.KindClassification}
}

func (e networkEstimator) Name() string         { return e.name }
func (e networkEstimator) Kind() estimator.Kind { return e.kind }

func (e networkEstimator) Predict(features []float64) (estimator.Prediction, error) {
	p, err := e.server.Predict(e.name, features)
	if err != nil {
		return estimator.Prediction{}, err
	}
	return estimator.Prediction{Value: p.Value, Confidence: p.Confidence, Fitted: true}, nil
}

func (e networkEstimator) Explain(_ []float64, p estimator.Prediction) string {
	return fmt.Sprintf("model %s probability %.2f", e.name, p.Value)
}
