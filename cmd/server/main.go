// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"credchain-risk/internal/config"
	"credchain-risk/internal/estimator"
	"credchain-risk/internal/features"
	"credchain-risk/internal/handler"
	"credchain-risk/internal/ingest"
	"credchain-risk/internal/models"
	"credchain-risk/internal/repository"
	"credchain-risk/internal/service"
	"credchain-risk/internal/serving"
	"credchain-risk/pkg/database"
	"credchain-risk/pkg/logger"
	"credchain-risk/pkg/metrics"
	"credchain-risk/pkg/middleware"
	"credchain-risk/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.ForEnvironment("credchain-risk", cfg.Server.Environment)
	defer log.Sync()

	m := metrics.New(prometheus.DefaultRegisterer)
	ctx := context.Background()

	// Model server
	modelServer := serving.NewModelServer(cfg.Serving.Config, nil, m, log)
	defer modelServer.Close()
	loadModels(modelServer, cfg.Serving, log)

	// Optional stores
	var (
		history handler.HistorySource
		store   handler.AssessmentStore
		cache   *redis.Client
	)

	if cfg.Stores.DatabaseURL != "" {
		db, err := database.NewPostgresDBWithRetry(ctx, cfg.Stores.DatabaseURL, cfg.Stores.ConnectTimeout)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		payments := repository.NewPaymentRepository(db.DB)
		assessments := repository.NewAssessmentRepository(db.DB)
		for _, migrate := range []func(context.Context) error{payments.Migrate, assessments.Migrate} {
			if err := migrate(ctx); err != nil {
				log.Fatal("failed to migrate database", zap.Error(err))
			}
		}
		store = assessments
		if cfg.Stores.HistorySource == config.HistoryPostgres {
			history = payments
		}
	}
	if cfg.Stores.HistorySource == config.HistoryStripe {
		history = ingest.NewStripeSource(cfg.Stores.StripeSecretKey, log)
	}

	if cfg.Stores.RedisAddr != "" {
		cache = redis.NewRedisClient(cfg.Stores.RedisAddr)
		if err := cache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using memory cache only", zap.Error(err))
			cache.Close()
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	// Scoring
	extractor := features.NewExtractor(cfg.Scoring.Features)
	creditScorer, err := service.NewCreditScorer(cfg.Scoring.Credit, extractor, m, log)
	if err != nil {
		log.Fatal("failed to create credit scorer", zap.Error(err))
	}
	classifier := estimator.Fallback{Primary: modelServer.FraudEstimator(), Secondary: service.NewMLModel()}
	fraudEngine, err := service.NewFraudEngine(cfg.Scoring.Fraud, extractor, classifier, m, log)
	if err != nil {
		log.Fatal("failed to create fraud engine", zap.Error(err))
	}
	scoreCache := service.NewScoreCache(cache, cfg.Scoring.CacheTTL, log)
	defer scoreCache.Close()

	// Handlers
	modelHandler := handler.NewModelHandler(modelServer, log)
	scoringHandler := handler.NewScoringHandler(creditScorer, fraudEngine, scoreCache, history, store, cfg.Scoring.Fraud.HistoryLimit, log)

	router := setupRouter(cfg, modelHandler, scoringHandler, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting risk scoring service",
			zap.String("port", cfg.Server.Port),
			zap.String("history_source", cfg.Stores.HistorySource))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// loadModels registers both models. A missing artifact leaves the model in
// error status until a reload succeeds.
func loadModels(s *serving.ModelServer, cfg config.ServingConfig, log *zap.Logger) {
	for name, typ := range map[string]models.ModelType{
		cfg.CreditModelName: models.ModelTypeCredit,
		cfg.FraudModelName:  models.ModelTypeFraud,
	} {
		path := filepath.Clean(cfg.ModelDir)
		if err := s.LoadModel(name, path, typ); err != nil {
			log.Warn("model not available at startup", zap.String("model", name), zap.Error(err))
		}
	}
}

func setupRouter(cfg *config.Config, modelRoutes *handler.ModelHandler, scoring *handler.ScoringHandler, log *zap.Logger) *gin.Engine {
	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	modelRoutes.Register(router)
	scoring.Register(router)

	return router
}
