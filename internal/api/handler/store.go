package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/storesync/internal/api/middleware"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/service"
)

// StoreHandler exposes store extraction and the extracted catalog.
type StoreHandler struct {
	extraction *service.ExtractionService
}

// NewStoreHandler creates a new store handler.
// Parameters:
//   - extraction: extraction service instance.
// Returns:
//   - *StoreHandler: initialized handler.
func NewStoreHandler(extraction *service.ExtractionService) *StoreHandler {
	return &StoreHandler{extraction: extraction}
}

// ExtractRequest is the body of POST /api/v1/stores/extract.
type ExtractRequest struct {
	StoreURL    string             `json:"store_url" binding:"required"`
	Credentials domain.Credentials `json:"credentials"`
	Platform    domain.Platform    `json:"platform"`
}

// Extract handles POST /api/v1/stores/extract.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *StoreHandler) Extract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	actor := middleware.ActorFrom(c)
	result, err := h.extraction.InitiateExtraction(c.Request.Context(), service.InitiateRequest{
		UserID:      actor.UserID,
		StoreURL:    req.StoreURL,
		Credentials: req.Credentials,
		Platform:    req.Platform,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// JobStatus handles GET /api/v1/stores/jobs/:jobId.
func (h *StoreHandler) JobStatus(c *gin.Context) {
	status, err := h.extraction.GetExtractionStatus(c.Request.Context(), c.Param("jobId"), middleware.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Retry handles POST /api/v1/stores/:storeId/retry.
func (h *StoreHandler) Retry(c *gin.Context) {
	job, err := h.extraction.RetryExtraction(c.Request.Context(), c.Param("storeId"), middleware.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"store_id": job.StoreID,
		"job_id":   job.ID,
		"status":   job.Status,
	})
}

// List handles GET /api/v1/stores. Admins see every store.
func (h *StoreHandler) List(c *gin.Context) {
	actor := middleware.ActorFrom(c)

	var (
		stores []domain.StoreSummary
		err    error
	)
	if actor.Admin {
		stores, err = h.extraction.GetAllStores(c.Request.Context())
	} else {
		stores, err = h.extraction.GetUserStores(c.Request.Context(), actor.UserID)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stores": stores,
		"total":  len(stores),
	})
}

// Get handles GET /api/v1/stores/:storeId.
func (h *StoreHandler) Get(c *gin.Context) {
	details, err := h.extraction.GetStoreDetails(c.Request.Context(), c.Param("storeId"), middleware.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// Delete handles DELETE /api/v1/stores/:storeId.
func (h *StoreHandler) Delete(c *gin.Context) {
	if err := h.extraction.DeleteStore(c.Request.Context(), c.Param("storeId"), middleware.ActorFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Products handles GET /api/v1/stores/:storeId/products.
// Parameters:
//   - c: Gin request context; page and limit come from the query string.
// Returns: none (writes JSON response).
func (h *StoreHandler) Products(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.extraction.ListProducts(c.Request.Context(), c.Param("storeId"), middleware.ActorFrom(c), page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Collections handles GET /api/v1/stores/:storeId/collections.
func (h *StoreHandler) Collections(c *gin.Context) {
	collections, err := h.extraction.ListCollections(c.Request.Context(), c.Param("storeId"), middleware.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"collections": collections,
		"total":       len(collections),
	})
}

// Pages handles GET /api/v1/stores/:storeId/pages, optionally filtered by ?type=.
func (h *StoreHandler) Pages(c *gin.Context) {
	pages, err := h.extraction.ListPages(c.Request.Context(), c.Param("storeId"), c.Query("type"), middleware.ActorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pages": pages,
		"total": len(pages),
	})
}
