package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"credchain-risk/internal/models"
	"credchain-risk/internal/repository"
	"credchain-risk/internal/serving"
)

// statusFor maps typed errors to HTTP status codes.
func statusFor(err error) int {
	var inputErr *models.InputError
	var notReady *models.ModelNotReadyError
	switch {
	case errors.As(err, &inputErr):
		return http.StatusBadRequest
	case errors.As(err, &notReady):
		return http.StatusInternalServerError
	case errors.Is(err, serving.ErrModelNotFound), errors.Is(err, repository.ErrAssessmentNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
