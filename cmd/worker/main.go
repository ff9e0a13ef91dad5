package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/settleline/settleline/internal/app"
	"github.com/settleline/settleline/internal/fx"
	"github.com/settleline/settleline/internal/platform/db"
	"github.com/settleline/settleline/internal/settlement"
	"github.com/settleline/settleline/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	gateway := fx.NewClient(cfg.FXBaseURL, cfg.FXTimeout)

	settlementRepo := settlement.NewRepository(pool)
	settlementService := settlement.NewService(settlementRepo, gateway, logger)

	integrityJob := jobs.NewLedgerIntegrityJob(settlementService, logger)
	fxJob := jobs.NewFXHealthcheckJob(gateway, cfg.FXProbeCurrency, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskFXHealthcheck, Handler: fxJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: jobs.NewLedgerIntegrityTask()},
			{Spec: "*/15 * * * *", Task: jobs.NewFXHealthcheckTask()},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
