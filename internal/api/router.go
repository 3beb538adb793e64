package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/storesync/internal/api/handler"
	"github.com/timmy/storesync/internal/api/middleware"
	"github.com/timmy/storesync/internal/config"
	"github.com/timmy/storesync/internal/logger"
	"github.com/timmy/storesync/internal/metrics"
	"github.com/timmy/storesync/internal/service"
	"gorm.io/gorm"
)

// RouterDeps are the collaborators the HTTP surface needs. Queue and
// Metrics are optional; their routes are skipped when nil.
type RouterDeps struct {
	Extraction *service.ExtractionService
	DB         *gorm.DB
	Queue      handler.DeadLetterQueue
	Metrics    *metrics.Recorder
	Logger     *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps RouterDeps, cfg *config.Config) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))
	r.Use(middleware.Identity())

	healthHandler := handler.NewHealthHandler(deps.DB)
	storeHandler := handler.NewStoreHandler(deps.Extraction)

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	if deps.Metrics != nil && cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(deps.Metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		stores := v1.Group("/stores")
		stores.POST("/extract", storeHandler.Extract)
		stores.GET("/jobs/:jobId", storeHandler.JobStatus)
		stores.GET("", storeHandler.List)
		stores.GET("/:storeId", storeHandler.Get)
		stores.DELETE("/:storeId", storeHandler.Delete)
		stores.POST("/:storeId/retry", storeHandler.Retry)
		stores.GET("/:storeId/products", storeHandler.Products)
		stores.GET("/:storeId/collections", storeHandler.Collections)
		stores.GET("/:storeId/pages", storeHandler.Pages)

		if deps.Queue != nil {
			adminHandler := handler.NewAdminHandler(deps.Queue)
			admin := v1.Group("/admin", adminHandler.RequireAdmin)
			admin.GET("/queue", adminHandler.QueueStats)
			admin.GET("/queue/dead", adminHandler.DeadLetters)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})

	return r
}
