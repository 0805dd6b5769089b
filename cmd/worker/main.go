package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flightdeck/flightdeck/internal/app"
	"github.com/flightdeck/flightdeck/internal/backend"
	jobmetrics "github.com/flightdeck/flightdeck/internal/jobs"
	"github.com/flightdeck/flightdeck/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeRevokeToken, Handler: jobs.RevokeTokenHandler(backendClient, metrics, logger)},
			{Type: jobs.TaskTypeBackendProbe, Handler: jobs.BackendProbeHandler(backendClient, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BackendProbeCron, Task: jobs.NewBackendProbeTask(), Options: []asynq.Option{asynq.MaxRetry(0)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
