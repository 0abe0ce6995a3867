package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sentra-iam/sentra/internal/admin"
	"github.com/sentra-iam/sentra/internal/app"
	"github.com/sentra-iam/sentra/internal/delegation"
	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/observability"
	"github.com/sentra-iam/sentra/internal/platform/cache"
	"github.com/sentra-iam/sentra/internal/platform/db"
	"github.com/sentra-iam/sentra/internal/review"
	"github.com/sentra-iam/sentra/internal/session"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/sod"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store := directory.NewRepository(pool)
	auditRecorder := shared.NewAuditRecorder(pool, logger)
	metrics := observability.NewMetrics()
	sodValidator := sod.NewValidator(store)

	sessionStore := session.NewRedisStore(redisClient, cfg.SessionTTL)
	sessionService := session.NewService(logger, store, sessionStore, sodValidator, auditRecorder, metrics)
	sessionHandler := session.NewHandler(logger, sessionService)

	adminService := admin.NewService(logger, store, sodValidator, auditRecorder, cfg.BcryptCost)
	if cfg.SafeNamePattern != "" {
		if err := adminService.SetNamePattern(cfg.SafeNamePattern); err != nil {
			logger.Error("configure name pattern", slog.Any("error", err))
			os.Exit(1)
		}
	}
	delegated := admin.NewDelegated(adminService, delegation.NewAuthorizer(store))
	adminHandler := admin.NewHandler(logger, delegated, sessionService)

	reviewService := review.NewService(store)
	reviewHandler := review.NewHandler(logger, reviewService, sessionService)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionHandler: sessionHandler,
		AdminHandler:   adminHandler,
		ReviewHandler:  reviewHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
