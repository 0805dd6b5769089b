package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/flightdeck/flightdeck/internal/app"
	"github.com/flightdeck/flightdeck/internal/auth"
	"github.com/flightdeck/flightdeck/internal/backend"
	"github.com/flightdeck/flightdeck/internal/observability"
	"github.com/flightdeck/flightdeck/internal/platform/cache"
	"github.com/flightdeck/flightdeck/internal/platform/db"
	rbachttp "github.com/flightdeck/flightdeck/internal/rbac/http"
	"github.com/flightdeck/flightdeck/internal/roles"
	"github.com/flightdeck/flightdeck/internal/shared"
	"github.com/flightdeck/flightdeck/internal/view"
	"github.com/flightdeck/flightdeck/jobs"
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

	// The audit trail is optional; without PG_DSN nothing is recorded.
	var auditLogger *shared.AuditLogger
	if cfg.PGDSN != "" {
		dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		auditLogger = shared.NewAuditLogger(dbpool)
	} else {
		logger.Warn("PG_DSN empty, audit logging disabled")
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	if err := backendClient.Ping(ctx); err != nil {
		logger.Warn("backend ping", slog.Any("error", err))
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
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

	sessionManager := shared.NewSessionManager(redisClient, "flightdeck_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}
	guard := rbachttp.Middleware{Templates: templates, Logger: logger, Observer: metrics}

	registry, err := roles.NewRegistry(cfg.RoleCacheSize, backendClient,
		roles.WithTTL(cfg.RoleCacheTTL),
		roles.WithCooldown(cfg.RoleCacheCooldown),
		roles.WithLogger(logger),
		roles.WithObserver(metrics),
	)
	if err != nil {
		logger.Error("init role cache registry", slog.Any("error", err))
		os.Exit(1)
	}
	rolesService := roles.NewService(backendClient, registry, auditLogger, logger)
	rolesHandler := roles.NewHandler(logger, rolesService, templates, csrfManager, guard)

	authHandler := auth.NewHandler(logger, templates, sessionManager, csrfManager, auditLogger)
	authHandler.OnLogout(rolesService.Forget)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Gateway:        backendClient,
		Revocations:    jobClient,
		Guard:          guard,
		AuthHandler:    authHandler,
		RolesHandler:   rolesHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		AccessLog:      true,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.BackendURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
