// Command api is the habit notification HTTP server.
//
// Usage:
//
//	habit-notify-api
//	PORT=8080 STORE_BACKEND=firestore habit-notify-api

// @title Habit Notify API
// @version 1.0.0
// @description Group habit notification fan-out: tells the other members of a group that a user completed a habit, once per cooldown window.
// @host localhost:3000
// @BasePath /
// @schemes http https
// @contact.name Habit Notify
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/habit-notify/internal/api"
	"github.com/albapepper/habit-notify/internal/api/handler"
	"github.com/albapepper/habit-notify/internal/backend"
	"github.com/albapepper/habit-notify/internal/config"
	"github.com/albapepper/habit-notify/internal/listener"

	_ "github.com/albapepper/habit-notify/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Connect store and push transport
	backends, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open backends", "error", err)
		os.Exit(1)
	}
	defer backends.Close()

	notifier := backends.NewNotifier(cfg, logger)
	logger.Info("Notifier ready",
		"cooldown", cfg.Cooldown, "store", cfg.StoreBackend, "transport", backends.Transport)

	// Start LISTEN/NOTIFY consumer for habit completion events
	if cfg.ListenerEnabled {
		if cfg.StoreBackend != config.BackendPostgres {
			logger.Warn("Habit listener requires the postgres backend; not started")
		} else {
			go listener.Start(ctx, cfg.DatabaseURL, cfg.ListenerChannel, notifier, logger)
		}
	}

	// Create router
	router := api.NewRouter(handler.New(notifier, backends.Store, cfg.StoreBackend), cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Habit Notify API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", !cfg.IsProduction())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
