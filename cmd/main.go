// cmd/main.go is the application entry point.
// It wires together all layers, starts the HTTP server and the expiration
// sweeper, and stops both on SIGINT/SIGTERM.
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

	"github.com/Shivanand-hulikatti/event-admission/internal/config"
	"github.com/Shivanand-hulikatti/event-admission/internal/database"
	"github.com/Shivanand-hulikatti/event-admission/internal/handler"
	"github.com/Shivanand-hulikatti/event-admission/internal/logging"
	"github.com/Shivanand-hulikatti/event-admission/internal/payment"
	"github.com/Shivanand-hulikatti/event-admission/internal/redisx"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/Shivanand-hulikatti/event-admission/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// redisStore is what the API and the payment service need from redis.
type redisStore interface {
	handler.Idempotency
	service.CallbackDedup
}

func main() {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("admission service stopped")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.DB, logging.Component(logger, "database"))
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("connected to PostgreSQL")

	// ── 2. Redis (optional) ───────────────────────────────────────────────
	var cache redisStore = redisx.Noop{}
	if cfg.RedisAddr != "" {
		rdb, err := redisx.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cache = redisx.NewStore(rdb)
		logger.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	} else {
		logger.Warn("REDIS_ADDR not set, idempotency keys and callback dedup are disabled")
	}

	// ── 3. Wire up layers ─────────────────────────────────────────────────
	store := repository.NewPgStore(pool)
	profiles := repository.NewProfileReader(pool)
	gateway := payment.NewMidtrans(cfg.MidtransServerKey, cfg.MidtransProduction)

	batches := service.NewBatchEngine(store, cfg.Location(), time.Now, logging.Component(logger, "batches"))
	admission := service.NewAdmissionService(store, batches, profiles, cfg.BatchMaxAttempts, cfg.OrderPaymentWindow, time.Now, logging.Component(logger, "admission"))
	settlement := service.NewSettlementService(store, time.Now, logging.Component(logger, "settlement"))
	release := service.NewReleaseService(store, batches, cfg.SweepBatchSize, time.Now, logging.Component(logger, "release"))
	payments := service.NewPaymentService(store, gateway, settlement, cache, cfg.OrderPaymentWindow, time.Now, logging.Component(logger, "payments"))
	sweeper := service.NewSweeper(store, release, batches, cfg.SweepInterval, logging.Component(logger, "sweeper"))

	api := handler.NewAdmissionHandler(handler.Services{
		Admission:  admission,
		Batches:    batches,
		Settlement: settlement,
		Release:    release,
		Payments:   payments,
		Queries:    service.NewQueries(store),
	}, cache, logging.Component(logger, "http"))

	// ── 4. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger(logging.Component(logger, "access")))
	r.Use(handler.CORS)

	api.Mount(r)

	// ── 5. Run server and sweeper until a signal arrives ──────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
