// Package config builds the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"credchain-risk/internal/features"
	"credchain-risk/internal/ml"
	"credchain-risk/internal/models"
	"credchain-risk/internal/service"
	"credchain-risk/internal/serving"
	"credchain-risk/internal/training"
)

// History sources for the scoring endpoints.
const (
	HistoryNone     = "none"
	HistoryPostgres = "postgres"
	HistoryStripe   = "stripe"
)

type Config struct {
	Server   ServerConfig
	Scoring  ScoringConfig
	Serving  ServingConfig
	Training training.Config
	Stores   StoresConfig
}

type ServerConfig struct {
	Port            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScoringConfig struct {
	Features features.Config
	Credit   service.CreditConfig
	Fraud    service.FraudConfig
	CacheTTL time.Duration
}

type ServingConfig struct {
	serving.Config
	// ModelDir holds <type>-<millis> artifact directories.
	ModelDir string
}

type StoresConfig struct {
	DatabaseURL     string
	RedisAddr       string
	MongoURI        string
	MongoDatabase   string
	StripeSecretKey string
	HistorySource   string
	SampleStorePath string
	ConnectTimeout  time.Duration
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		Server: ServerConfig{
			Port:            env.str("PORT", "8090"),
			Environment:     env.str("ENVIRONMENT", "development"),
			ReadTimeout:     env.duration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    env.duration("WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Training: training.DefaultConfig(),
		Stores: StoresConfig{
			DatabaseURL:     env.str("DATABASE_URL", ""),
			RedisAddr:       env.str("REDIS_ADDR", ""),
			MongoURI:        env.str("MONGO_URI", ""),
			MongoDatabase:   env.str("MONGO_DATABASE", "credchain"),
			StripeSecretKey: env.str("STRIPE_SECRET_KEY", ""),
			SampleStorePath: env.str("SAMPLE_STORE_PATH", "samples.db"),
			ConnectTimeout:  env.duration("CONNECT_TIMEOUT", 30*time.Second),
		},
	}
	cfg.Stores.HistorySource = env.str("HISTORY_SOURCE", defaultHistorySource(cfg.Stores))

	feat := features.DefaultConfig()
	feat.SuspiciousCountries = env.list("SUSPICIOUS_COUNTRIES", feat.SuspiciousCountries)
	feat.InquiryWindowMonths = env.integer("INQUIRY_WINDOW_MONTHS", feat.InquiryWindowMonths)

	credit := service.DefaultCreditConfig()
	credit.Weights = env.creditWeights("CREDIT_WEIGHTS", credit.Weights)
	credit.Scale = models.ScoreScale(env.str("CREDIT_SCALE", string(credit.Scale)))

	fraud := service.DefaultFraudConfig()
	if w := env.floats("ENSEMBLE_WEIGHTS", nil); w != nil {
		if len(w) != 3 {
			env.fail(fmt.Errorf("ENSEMBLE_WEIGHTS needs 3 values, got %d", len(w)))
		} else {
			fraud.Ensemble = service.EnsembleWeights{Anomaly: w[0], Outlier: w[1], Classification: w[2]}
		}
	}
	fraud.MLWeight = env.float("ML_WEIGHT", fraud.MLWeight)
	fraud.RuleWeight = env.float("RULE_WEIGHT", fraud.RuleWeight)
	fraud.Threshold = env.float("FRAUD_THRESHOLD", fraud.Threshold)
	fraud.HistoryLimit = env.integer("HISTORY_LIMIT", fraud.HistoryLimit)

	cfg.Scoring = ScoringConfig{
		Features: feat,
		Credit:   credit,
		Fraud:    fraud,
		CacheTTL: env.duration("SCORE_CACHE_TTL", 5*time.Minute),
	}

	srv := serving.DefaultConfig()
	srv.CreditModelName = env.str("CREDIT_MODEL_NAME", srv.CreditModelName)
	srv.FraudModelName = env.str("FRAUD_MODEL_NAME", srv.FraudModelName)
	srv.FraudThreshold = fraud.Threshold
	srv.BatchConcurrency = env.integer("BATCH_CONCURRENCY", srv.BatchConcurrency)
	srv.Normalization = ml.Normalization{
		Min: env.float("NORMALIZATION_MIN", srv.Normalization.Min),
		Max: env.float("NORMALIZATION_MAX", srv.Normalization.Max),
	}
	cfg.Serving = ServingConfig{Config: srv, ModelDir: env.str("MODEL_DIR", "models")}

	cfg.Training.OutputDir = cfg.Serving.ModelDir
	cfg.Training.NormalizationMin = srv.Normalization.Min
	cfg.Training.NormalizationMax = srv.Normalization.Max
	if path := env.str("TRAINING_CONFIG", ""); path != "" && env.err == nil {
		tc, err := LoadTrainingOverrides(path, cfg.Training)
		if err != nil {
			return nil, err
		}
		cfg.Training = tc
	}

	if env.err != nil {
		return nil, env.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultHistorySource(s StoresConfig) string {
	switch {
	case s.DatabaseURL != "":
		return HistoryPostgres
	case s.StripeSecretKey != "":
		return HistoryStripe
	}
	return HistoryNone
}

// Validate checks the weight invariants and store consistency.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Scoring.Credit.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Scoring.Credit.Scale.Bounds(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Scoring.Fraud.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !c.Serving.Normalization.Valid() {
		errs = append(errs, errors.New("normalization bounds are empty"))
	}
	if err := c.Training.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("training: %w", err))
	}
	switch c.Stores.HistorySource {
	case HistoryNone:
	case HistoryPostgres:
		if c.Stores.DatabaseURL == "" {
			errs = append(errs, errors.New("HISTORY_SOURCE=postgres requires DATABASE_URL"))
		}
	case HistoryStripe:
		if c.Stores.StripeSecretKey == "" {
			errs = append(errs, errors.New("HISTORY_SOURCE=stripe requires STRIPE_SECRET_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown HISTORY_SOURCE %q", c.Stores.HistorySource))
	}
	return errors.Join(errs...)
}

// LoadTrainingOverrides applies a YAML file on top of base. Keys absent
// from the file keep their base values.
func LoadTrainingOverrides(path string, base training.Config) (training.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read training config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("failed to parse training config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return base, fmt.Errorf("invalid training config %s: %w", path, err)
	}
	return cfg, nil
}

// envReader keeps the first parse error so Load reads like a list of defaults.
type envReader struct {
	err error
}

func (r *envReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *envReader) str(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func (r *envReader) integer(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (r *envReader) float(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (r *envReader) list(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (r *envReader) floats(key string, fallback []float64) []float64 {
	items := r.list(key, nil)
	if items == nil {
		return fallback
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, err := strconv.ParseFloat(item, 64)
		if err != nil {
			r.fail(fmt.Errorf("%s: %w", key, err))
			return fallback
		}
		out[i] = f
	}
	return out
}

// creditWeights parses five decimals in factor order.
func (r *envReader) creditWeights(key string, fallback service.CreditWeights) service.CreditWeights {
	items := r.list(key, nil)
	if items == nil {
		return fallback
	}
	if len(items) != len(models.CreditFactors) {
		r.fail(fmt.Errorf("%s needs %d values, got %d", key, len(models.CreditFactors), len(items)))
		return fallback
	}
	w := make([]decimal.Decimal, len(items))
	for i, item := range items {
		d, err := decimal.NewFromString(item)
		if err != nil {
			r.fail(fmt.Errorf("%s: %w", key, err))
			return fallback
		}
		w[i] = d
	}
	return service.CreditWeights{
		PaymentHistory:     w[0],
		CreditUtilization:  w[1],
		CreditAge:          w[2],
		CreditMix:          w[3],
		NewCreditInquiries: w[4],
	}
}
