// Package main is the entry point for the Presto API.
//
// The same binary runs as a plain HTTP server (local and container
// deployments) or inside AWS Lambda behind an HTTP API; the Lambda runtime
// is detected from environment variables at startup. Graceful shutdown is
// handled via OS signal interception, with background workers (the burst
// cache sweeper, the metric publisher) torn down after the listener drains.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"presto/internal/alloc"
	"presto/internal/api/handlers"
	"presto/internal/auth"
	"presto/internal/billing"
	"presto/internal/cache"
	"presto/internal/clock"
	"presto/internal/config"
	"presto/internal/core"
	"presto/internal/db"
	"presto/internal/external"
	"presto/internal/quota"
)

// sweepMaxAge is how long an untouched counter survives a sweep. Just over a
// day so degraded-mode daily counters outlive their own UTC day.
const sweepMaxAge = 25 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("presto API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	// Durable store. A missing DATABASE_URL is tolerated on purpose: the
	// quota ledger falls back to its per-IP degraded mode and founder
	// claims answer 503.
	var (
		profileStore quota.ProfileStore
		claimStore   alloc.ClaimStore
		membership   handlers.MembershipUpdater
		probes       []core.HealthProbe
		closePool    func()
	)
	if cfg.Database.Configured() {
		pool, poolErr := db.NewPool(ctx, cfg.Database)
		if poolErr != nil {
			return fmt.Errorf("creating database pool: %w", poolErr)
		}
		closePool = pool.Close
		repo := db.NewProfileRepo(pool)
		profileStore = repo
		claimStore = repo
		membership = repo
		probes = append(probes, db.NewPoolProbe(pool))
	} else {
		logger.Warn("DATABASE_URL not set; quota ledger running in degraded per-IP mode")
		membership = noopMembership{}
	}

	// Counter cache: in-process by default, Redis when configured so burst
	// counting is shared across instances.
	clk := clock.NewSystem()
	var counters cache.CounterCache
	if cfg.Cache.RedisURL.Unmask() != "" {
		opts, parseErr := redis.ParseURL(cfg.Cache.RedisURL.Unmask())
		if parseErr != nil {
			return fmt.Errorf("parsing REDIS_URL: %w", parseErr)
		}
		counters, err = cache.NewRedis(redis.NewClient(opts))
		if err != nil {
			return fmt.Errorf("creating redis counter cache: %w", err)
		}
		logger.Info("burst counters backed by redis")
	} else {
		counters = cache.NewMemory(clk)
	}

	// Fire-and-forget usage telemetry.
	var metrics quota.MetricsCollector
	var closeMetrics func()
	if cfg.Observability.EnableMetrics {
		cw, cwErr := external.NewCloudWatchMetrics(ctx,
			cfg.Observability.AWSRegion, cfg.Observability.MetricNamespace, logger)
		if cwErr != nil {
			return fmt.Errorf("creating cloudwatch metrics: %w", cwErr)
		}
		metrics = cw
		closeMetrics = cw.Close
	}

	clients := external.NewClientRegistry(cfg, logger)
	resolver := auth.NewResolver(cfg.Auth.SupabaseJWTSecret.Unmask(), cfg.Auth.IPHashSalt.Unmask())

	ledger := quota.NewLedger(profileStore, counters, billing.NewStaticTierRegistry(), clk, metrics, logger)
	register := alloc.NewRegister(claimStore, logger)

	srv, err := core.NewServer(cfg, resolver, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = probes

	usageHandler := handlers.NewUsageHandler(ledger, logger)
	assistHandler := handlers.NewAssistHandler(ledger, clients.Assistant, resolver, srv.Validator, logger)
	foundersHandler := handlers.NewFoundersHandler(register, clients.Billing, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		clients.StripeVerifier,
		register,
		clients.Billing,
		membership,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)

	srv.V1Registrars = append(srv.V1Registrars,
		usageHandler.RegisterRoutes,
		assistHandler.RegisterRoutes,
		foundersHandler.RegisterRoutes,
	)
	srv.V1PublicRegistrars = append(srv.V1PublicRegistrars, webhookHandler.RegisterRoutes)

	srv.MountRoutes()

	defer func() {
		if closeMetrics != nil {
			closeMetrics()
		}
		if closePool != nil {
			closePool()
		}
	}()

	if isLambdaEnvironment() {
		// Lambda owns the process lifecycle; no sweeper is needed because
		// execution environments are recycled well within sweepMaxAge.
		return runLambda(srv, logger)
	}

	return runHTTPServer(ctx, srv, cfg, counters, logger)
}

// isLambdaEnvironment reports whether the process is inside the AWS Lambda
// runtime.
func isLambdaEnvironment() bool {
	_, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return ok
}

// runHTTPServer serves plain HTTP with graceful shutdown. The counter-cache
// sweeper runs alongside the listener under one errgroup so either failing
// tears both down.
func runHTTPServer(
	ctx context.Context,
	srv *core.Server,
	cfg *config.Config,
	counters cache.CounterCache,
	logger *slog.Logger,
) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Cache.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if n := counters.Sweep(gCtx, sweepMaxAge); n > 0 {
					logger.Debug("counter cache swept", "evicted", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// noopMembership absorbs membership updates when no store is configured.
type noopMembership struct{}

func (noopMembership) UpdateMembership(ctx context.Context, userID string, membership string) error {
	return nil
}

// newLogger builds the process-wide JSON logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
