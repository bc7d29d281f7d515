package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/voicecat/internal/api"
	"github.com/timmy/voicecat/internal/api/handler"
	"github.com/timmy/voicecat/internal/app"
	"github.com/timmy/voicecat/internal/config"
	"github.com/timmy/voicecat/internal/logger"
)

func main() {
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH is used by container deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	deps := api.RouterDeps{
		Runner:    a.Analysis,
		Runs:      a.Runs,
		Catalogue: a.Catalogue,
		Checks:    map[string]handler.Pinger{"database": a.PingDB},
		Logger:    appLogger,
	}
	if a.Index != nil {
		deps.Voices = a.Index
	}
	router, runs := api.SetupRouter(cfg.Server, deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Cancelling running analyses")
	runsCtx, cancelRuns := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelRuns()
	if err := runs.Shutdown(runsCtx); err != nil {
		appLogger.WithError(err).Error("Analyses did not stop in time")
	}
	appLogger.Info("Server exited")
}
