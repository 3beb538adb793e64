package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/logger"
)

// writeError maps a service error onto an HTTP status and JSON body.
// Internal failures are logged and reported without detail.
func writeError(c *gin.Context, err error) {
	var (
		validation *domain.ValidationError
		detection  *domain.DetectionError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validation.Error(),
			"field": validation.Field,
		})
	case errors.As(err, &detection):
		c.JSON(http.StatusBadGateway, gin.H{
			"error": detection.Error(),
		})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrStoreDeleted):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Not found",
		})
	default:
		_ = c.Error(err)
		logger.CtxError(c.Request.Context(), "Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
		})
	}
}
