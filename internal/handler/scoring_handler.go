// internal/handler/scoring_handler.go
package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"credchain-risk/internal/models"
	"credchain-risk/internal/service"
)

// HistorySource loads a user's payment history, newest first.
type HistorySource interface {
	History(ctx context.Context, userID string, limit int) ([]models.PaymentRecord, error)
}

// AssessmentStore persists fraud assessments.
type AssessmentStore interface {
	Save(ctx context.Context, a *models.FraudAssessment) error
	GetByTransactionID(ctx context.Context, txID string) (*models.FraudAssessment, error)
	Stats(ctx context.Context, since time.Time) (*models.AssessmentStats, error)
}

var errNoHistorySource = models.NewInputError("records", "required when no history source is configured")

type ScoringHandler struct {
	credit  *service.CreditScorer
	fraud   *service.FraudEngine
	cache   *service.ScoreCache
	history HistorySource
	store   AssessmentStore
	// fraudHistoryLimit bounds the history loaded for fraud checks.
	fraudHistoryLimit int
	logger            *zap.Logger
}

// NewScoringHandler wires the scoring endpoints. cache, history and store
// are optional.
func NewScoringHandler(credit *service.CreditScorer, fraud *service.FraudEngine, cache *service.ScoreCache, history HistorySource, store AssessmentStore, fraudHistoryLimit int, logger *zap.Logger) *ScoringHandler {
	return &ScoringHandler{
		credit:            credit,
		fraud:             fraud,
		cache:             cache,
		history:           history,
		store:             store,
		fraudHistoryLimit: fraudHistoryLimit,
		logger:            logger,
	}
}

func (h *ScoringHandler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/score/credit", h.ScoreCredit)
		v1.DELETE("/score/credit/:userId", h.InvalidateCredit)

		fraud := v1.Group("/assess")
		{
			fraud.POST("/fraud", h.AssessFraud)
			fraud.GET("/fraud/:transactionId", h.GetAssessment)
			fraud.GET("/stats", h.GetStats)
		}
	}
}

type creditRequest struct {
	UserID  string                 `json:"userId" binding:"required"`
	Scale   models.ScoreScale      `json:"scale"`
	Records []models.PaymentRecord `json:"records"`
}

// ScoreCredit scores the supplied records, or the stored history when
// records are omitted. Only stored-history results are cached.
func (h *ScoringHandler) ScoreCredit(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, models.NewInputError("body", "%v", err))
		return
	}
	scale := req.Scale
	if scale == "" {
		scale = h.credit.Scale()
	}
	if _, err := scale.Bounds(); err != nil {
		respondError(c, h.logger, models.NewInputError("scale", "%v", err))
		return
	}

	ctx := c.Request.Context()
	records := req.Records
	fromHistory := records == nil
	if fromHistory {
		if h.cache != nil {
			if cached, err := h.cache.Get(ctx, req.UserID, scale); err == nil {
				c.JSON(http.StatusOK, cached)
				return
			}
		}
		var err error
		if records, err = h.loadHistory(ctx, req.UserID, 0); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	result := h.credit.ComputeCreditScoreAt(ctx, req.UserID, records, scale, time.Now())
	if fromHistory && h.cache != nil {
		if err := h.cache.Set(ctx, result); err != nil {
			h.logger.Warn("failed to cache credit score", zap.String("user_id", req.UserID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, result)
}

func (h *ScoringHandler) InvalidateCredit(c *gin.Context) {
	if h.cache == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if err := h.cache.Invalidate(c.Request.Context(), c.Param("userId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type fraudRequest struct {
	UserID      string                    `json:"userId" binding:"required"`
	Transaction models.TransactionContext `json:"transaction" binding:"required"`
	Records     []models.PaymentRecord    `json:"records"`
}

// AssessFraud assesses a transaction and stores the result when a store is
// configured. A failed save does not change the answer.
func (h *ScoringHandler) AssessFraud(c *gin.Context) {
	var req fraudRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, models.NewInputError("body", "%v", err))
		return
	}

	ctx := c.Request.Context()
	records := req.Records
	if records == nil {
		var err error
		if records, err = h.loadHistory(ctx, req.UserID, h.fraudHistoryLimit); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	assessment := h.fraud.AssessFraud(ctx, req.UserID, req.Transaction, records)
	if h.store != nil {
		if err := h.store.Save(ctx, assessment); err != nil {
			h.logger.Error("failed to store fraud assessment",
				zap.String("transaction_id", assessment.TransactionID),
				zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, assessment)
}

func (h *ScoringHandler) GetAssessment(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "assessment storage is not configured"})
		return
	}
	a, err := h.store.GetByTransactionID(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *ScoringHandler) GetStats(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "assessment storage is not configured"})
		return
	}
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(c, h.logger, models.NewInputError("window", "must be a positive duration"))
			return
		}
		window = d
	}

	stats, err := h.store.Stats(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ScoringHandler) loadHistory(ctx context.Context, userID string, limit int) ([]models.PaymentRecord, error) {
	if h.history == nil {
		return nil, errNoHistorySource
	}
	records, err := h.history.History(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment history: %w", err)
	}
	return records, nil
}
