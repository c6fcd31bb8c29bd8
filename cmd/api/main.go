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

	"github.com/omichsam/twitter-post-feeds/internal/api"
	"github.com/omichsam/twitter-post-feeds/internal/config"
	"github.com/omichsam/twitter-post-feeds/internal/db"
	"github.com/omichsam/twitter-post-feeds/internal/log"
	"github.com/omichsam/twitter-post-feeds/internal/metrics"
	"github.com/omichsam/twitter-post-feeds/internal/repository"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.IsProd(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting post query API",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr(),
		"default_user", cfg.DefaultUsername,
		"database", cfg.DatabaseName(),
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("posts-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	// The query service only reads; the fetcher and cmd/migrate own the schema.
	database, err := db.Open(ctx, db.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.StorageDSN(),
	})
	cancel()
	if err != nil {
		logger.Fatalw("Failed to open database", "error", err)
	}
	defer database.Close()
	logger.Infow("Database opened", "driver", cfg.Database.Driver)

	repo := repository.NewRepository(database, logger)

	handler := api.NewHandler(repo, api.HandlerConfig{
		DefaultUsername: cfg.DefaultUsername,
		DatabaseName:    cfg.DatabaseName(),
	}, logger)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, api.RouteConfig{
		CORSOrigins:    cfg.Security.CORSAllowedOrigins,
		RateLimitRPM:   cfg.Security.RateLimitRPM,
		MetricsHandler: metricsHandler,
	})

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	server := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("Server startup failed", "error", err)
		}
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
