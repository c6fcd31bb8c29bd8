package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/omichsam/twitter-post-feeds/internal/config"
	"github.com/omichsam/twitter-post-feeds/internal/db"
	"github.com/omichsam/twitter-post-feeds/internal/jobs"
	"github.com/omichsam/twitter-post-feeds/internal/log"
	"github.com/omichsam/twitter-post-feeds/internal/metrics"
	"github.com/omichsam/twitter-post-feeds/internal/repository"
	"github.com/omichsam/twitter-post-feeds/internal/scheduler"
	"github.com/omichsam/twitter-post-feeds/internal/store"
	"github.com/omichsam/twitter-post-feeds/internal/xapi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const usage = `Usage: fetcher [manual]

Without arguments the fetcher runs one cycle immediately and then keeps
fetching at FETCH_TIMES until interrupted. "manual" initialises storage,
runs a single cycle and exits.`

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	manual := false
	switch flag.Arg(0) {
	case "":
	case "manual":
		manual = true
	default:
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.RequireCredential(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.IsProd(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := xapi.NewClient(xapi.Config{
		BaseURL:      cfg.Upstream.BaseURL,
		BearerToken:  cfg.Upstream.BearerToken,
		Timeout:      cfg.Upstream.Timeout,
		RateLimitRPM: cfg.Upstream.RateLimitRPM,
	}, logger)

	if err := run(ctx, cfg, logger, client, manual); err != nil {
		logger.Errorw("Fetcher exited with error", "error", err)
		os.Exit(1)
	}
}

// healthReporter is implemented by sources that track their own upstream health.
type healthReporter interface {
	Health() xapi.Health
}

// run initialises storage and the account cache, then either performs one
// cycle (manual) or one immediate cycle followed by the daily triggers until
// ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, source jobs.Source, manual bool) error {
	metricsObj, metricsHandler, err := metrics.Setup("posts-fetcher")
	if err != nil {
		return fmt.Errorf("failed to setup metrics: %w", err)
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	database, err := db.OpenAndMigrate(openCtx, db.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.StorageDSN(),
	})
	cancel()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	logger.Infow("Database initialized", "driver", cfg.Database.Driver, "database", cfg.DatabaseName())

	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	if err != nil {
		return fmt.Errorf("failed to setup cache: %w", err)
	}
	defer cache.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := cache.Ping(pingCtx); err != nil {
		logger.Warnw("Account id cache ping failed", "error", err)
	}
	cancel()
	logger.Infow("Account id cache ready",
		"in_memory", cache.IsInMemoryMode(),
		"ttl", cfg.Cache.AccountIDCache,
	)

	fetcher := jobs.NewPostFetcher(
		source,
		repository.NewRepository(database, logger),
		cache,
		logger,
		metricsObj,
		jobs.PostFetcherConfig{
			Username:     cfg.DefaultUsername,
			FetchCount:   cfg.Upstream.FetchCount,
			AccountIDTTL: cfg.Cache.AccountIDCache,
		},
	)

	if manual {
		logger.Infow("Running manual fetch", "username", cfg.DefaultUsername)
		_, err := fetcher.RunCycle(ctx)
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	sched := scheduler.New(loc, logger, scheduler.WithPollInterval(cfg.Scheduler.PollInterval))
	cycle := func(ctx context.Context) error {
		_, err := fetcher.RunCycle(ctx)
		return err
	}
	for _, at := range cfg.Scheduler.FetchTimes {
		if err := sched.AddDailyAt("fetch@"+at, at, cycle); err != nil {
			return err
		}
	}
	for _, j := range sched.Jobs() {
		logger.Infow("Scheduled fetch", "job", j.Name, "next_run", j.NextRun)
	}

	g, ctx := errgroup.WithContext(ctx)

	// The status server is optional: its failures are logged and never stop
	// ingestion.
	if cfg.Scheduler.MetricsAddr != "" {
		server := &http.Server{
			Addr:              cfg.Scheduler.MetricsAddr,
			Handler:           statusRouter(metricsHandler, source),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Infow("Metrics server starting", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("Metrics server failed; fetching continues", "addr", server.Addr, "error", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warnw("Metrics server shutdown failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		// One cycle right away, then the daily triggers.
		if _, err := fetcher.RunCycle(ctx); err != nil {
			logger.Warnw("Initial fetch cycle failed", "error", err)
		}
		return sched.Run(ctx)
	})

	err = g.Wait()
	logger.Infow("Fetcher stopped")
	return err
}

// statusRouter serves /metrics and, when the source tracks it, the upstream
// health as /health.
func statusRouter(metricsHandler http.Handler, source jobs.Source) http.Handler {
	router := chi.NewRouter()
	router.Handle("/metrics", metricsHandler)

	if hr, ok := source.(healthReporter); ok {
		router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			health := hr.Health()
			status := http.StatusOK
			if !health.Healthy {
				status = http.StatusServiceUnavailable
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(health)
		})
	}
	return router
}
