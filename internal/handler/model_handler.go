// internal/handler/model_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"credchain-risk/internal/models"
	"credchain-risk/internal/serving"
)

type ModelHandler struct {
	server *serving.ModelServer
	logger *zap.Logger
}

func NewModelHandler(server *serving.ModelServer, logger *zap.Logger) *ModelHandler {
	return &ModelHandler{
		server: server,
		logger: logger,
	}
}

// Register mounts the model-serving routes.
func (h *ModelHandler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/models", h.ListModels)
	r.GET("/models/:name", h.GetModel)
	r.GET("/models/:name/metrics", h.GetModelMetrics)
	r.POST("/models/:name/reload", h.ReloadModel)
	r.POST("/predict/credit-score", h.PredictCredit)
	r.POST("/predict/fraud-detection", h.PredictFraud)
	r.POST("/predict/batch", h.PredictBatch)
}

func (h *ModelHandler) Health(c *gin.Context) {
	ready := make(map[string]bool)
	for _, m := range h.server.ListModels() {
		ready[m.Name] = m.Status == models.ModelStatusReady
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"models":    ready,
	})
}

func (h *ModelHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.server.ListModels()})
}

func (h *ModelHandler) GetModel(c *gin.Context) {
	info, ok := h.server.GetModel(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *ModelHandler) GetModelMetrics(c *gin.Context) {
	m, err := h.server.ModelMetrics(c.Param("name"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if m == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, m)
}

type reloadRequest struct {
	Path string `json:"path"`
}

func (h *ModelHandler) ReloadModel(c *gin.Context) {
	var req reloadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	name := c.Param("name")
	if err := h.server.ReloadModel(name, req.Path); err != nil {
		respondError(c, h.logger, err)
		return
	}
	info, _ := h.server.GetModel(name)
	c.JSON(http.StatusOK, info)
}

type predictRequest struct {
	Features      []float64 `json:"features"`
	UserID        string    `json:"userId"`
	TransactionID string    `json:"transactionId"`
}

func (h *ModelHandler) bindPredict(c *gin.Context) (*predictRequest, bool) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, models.NewInputError("features", "%v", err))
		return nil, false
	}
	return &req, true
}

func (h *ModelHandler) PredictCredit(c *gin.Context) {
	req, ok := h.bindPredict(c)
	if !ok {
		return
	}

	p, err := h.server.PredictCredit(req.Features)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"modelName":      p.Model,
		"version":        p.Version,
		"prediction":     p.Score,
		"scale":          p.Scale,
		"confidence":     p.Confidence,
		"processingTime": serving.Millis(p.ProcessingTime),
		"timestamp":      time.Now().UTC(),
		"userId":         req.UserID,
	})
}

func (h *ModelHandler) PredictFraud(c *gin.Context) {
	req, ok := h.bindPredict(c)
	if !ok {
		return
	}

	p, err := h.server.PredictFraud(req.Features)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"modelName": p.Model,
		"version":   p.Version,
		"prediction": gin.H{
			"isFraud":     p.IsFraud,
			"probability": p.Probability,
			"confidence":  p.Confidence,
			"riskLevel":   p.RiskLevel,
		},
		"processingTime": serving.Millis(p.ProcessingTime),
		"timestamp":      time.Now().UTC(),
		"userId":         req.UserID,
		"transactionId":  req.TransactionID,
	})
}

type batchRequest struct {
	Requests []serving.BatchRequest `json:"requests"`
}

func (h *ModelHandler) PredictBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, models.NewInputError("requests", "%v", err))
		return
	}
	if req.Requests == nil {
		respondError(c, h.logger, models.NewInputError("requests", "must be an array"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"predictions": h.server.PredictBatch(req.Requests)})
}
