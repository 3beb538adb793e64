package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/timmy/storesync/internal/api"
	"github.com/timmy/storesync/internal/app"
	"github.com/timmy/storesync/internal/config"
	"github.com/timmy/storesync/internal/logger"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	router := api.SetupRouter(api.RouterDeps{
		Extraction: application.Extraction,
		DB:         application.DB,
		Queue:      application.Queue,
		Metrics:    application.Metrics,
		Logger:     appLogger,
	}, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var workers sync.WaitGroup
	if cfg.Server.EmbeddedWorkers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := application.RunWorkers(ctx, 0); err != nil {
				appLogger.WithError(err).Error("Embedded workers stopped")
			}
		}()
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":             cfg.Server.Port,
			"mode":             cfg.Server.Mode,
			"queue_backend":    cfg.Queue.Backend,
			"embedded_workers": cfg.Server.EmbeddedWorkers,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	workers.Wait()

	appLogger.Info("Server exited")
}
