package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/mscandco/platform/internal/app"
	"github.com/mscandco/platform/internal/auth"
	"github.com/mscandco/platform/internal/observability"
	"github.com/mscandco/platform/internal/platform/cache"
	"github.com/mscandco/platform/internal/platform/db"
	"github.com/mscandco/platform/internal/rbac"
	"github.com/mscandco/platform/internal/releases"
	"github.com/mscandco/platform/internal/shared"
	"github.com/mscandco/platform/jobs"
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
	slog.SetDefault(logger)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	cacheMetrics, err := rbac.NewCacheMetrics(metrics.Registerer())
	if err != nil {
		logger.Error("register cache metrics", slog.Any("error", err))
		os.Exit(1)
	}
	permissionCache := rbac.NewCache(cfg.PermissionCacheTTL,
		rbac.WithRedis(redisClient),
		rbac.WithCacheLogger(logger),
		rbac.WithCacheMetrics(cacheMetrics),
	)
	go func() {
		if err := permissionCache.Listen(ctx); err != nil {
			logger.Error("permission cache invalidation listener", slog.Any("error", err))
		}
	}()

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	revocations := auth.NewRevocations(redisClient)
	authService := auth.NewService(auth.NewRepository(dbpool), tokens, revocations)

	auditLogger := shared.NewAuditLogger(dbpool)
	rbacService := rbac.NewService(rbac.NewPGStore(dbpool), permissionCache, auditLogger, logger,
		rbac.WithSessionRevoker(authService),
	)
	guard := rbac.Guard{Permissions: rbacService, Logger: logger}

	redisOpts := cfg.Redis().QueueOpt()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	releaseMetrics, err := releases.NewMetrics(metrics.Registerer())
	if err != nil {
		logger.Error("register release metrics", slog.Any("error", err))
		os.Exit(1)
	}
	releaseService := releases.NewService(releases.NewRepository(dbpool), rbacService,
		releases.WithNotifier(jobClient),
		releases.WithIdempotency(shared.NewIdempotencyStore(dbpool)),
		releases.WithMetrics(releaseMetrics),
		releases.WithLogger(logger),
	)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		Authenticator:   auth.Middleware{Tokens: tokens, Revocations: revocations, Logger: logger},
		AuthHandler:     auth.NewHandler(logger, authService, rbacService, guard),
		AdminHandler:    rbac.NewHandler(logger, rbacService, guard),
		ReleasesHandler: releases.NewHandler(logger, releaseService, guard),
		JobHandler:      jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
