// cmd/presence-manager/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"presence-tracker/internal/api"
	"presence-tracker/internal/app"
	"presence-tracker/internal/common/auth"
	"presence-tracker/internal/common/config"
	"presence-tracker/internal/common/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting presence manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, app.Options{Logger: log})
	if err != nil {
		zapLog.Fatal("presence core failed to start", zap.Error(err))
	}
	defer func() {
		if err := core.Close(); err != nil {
			zapLog.Error("Error closing clients", zap.Error(err))
		}
	}()

	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		zapLog.Fatal("token verifier", zap.Error(err))
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := api.NewRouter(api.Deps{
		Engine:      core.Engine,
		Query:       core.Query,
		Verifier:    verifier,
		Logger:      log,
		Readiness:   core.Readiness,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	if err != nil {
		zapLog.Fatal("router setup failed", zap.Error(err))
	}

	if cfg.Presence.IsSweeperEnabled() {
		if err := core.Sweeper.Start(ctx); err != nil {
			zapLog.Fatal("sweeper failed to start", zap.Error(err))
		}
		defer core.Sweeper.Stop()
	} else {
		zapLog.Warn("Sweeper disabled; stale presences close only on their next heartbeat")
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      router,
		ReadTimeout:  config.GetDuration(cfg.HTTP.ReadTimeoutMs),
		WriteTimeout: config.GetDuration(cfg.HTTP.WriteTimeoutMs),
	}

	serverErr := make(chan error, 1)
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// --- Graceful Shutdown ---
	select {
	case <-ctx.Done():
		zapLog.Info("Shutdown signal received, stopping presence manager...")
	case err := <-serverErr:
		zapLog.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.HTTP.ShutdownTimeoutMs))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	zapLog.Info("Presence manager stopped gracefully")
}
