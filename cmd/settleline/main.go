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

	"github.com/settleline/settleline/internal/app"
	"github.com/settleline/settleline/internal/fx"
	"github.com/settleline/settleline/internal/invoicing"
	"github.com/settleline/settleline/internal/observability"
	"github.com/settleline/settleline/internal/platform/cache"
	"github.com/settleline/settleline/internal/platform/db"
	"github.com/settleline/settleline/internal/settlement"
	"github.com/settleline/settleline/internal/shared"
	"github.com/settleline/settleline/report"
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

	pool, err := db.New(ctx, cfg.PGDSN)
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

	gateway := fx.NewClient(cfg.FXBaseURL, cfg.FXTimeout)
	idemGuard := shared.NewIdempotencyGuard(redisClient, cfg.IdempotencyTTL)
	metrics := observability.NewMetrics()

	settlementRepo := settlement.NewRepository(pool)
	settlementService := settlement.NewService(settlementRepo, gateway, logger)
	settlementHandler := settlement.NewHandler(logger, settlementService, idemGuard, metrics)

	invoicingRepo := invoicing.NewRepository(pool)
	invoicingService := invoicing.NewService(invoicingRepo, gateway, logger)
	invoicingHandler := invoicing.NewHandler(logger, invoicingService)

	reportClient := report.NewClient(cfg.GotenbergURL)
	reportHandler := report.NewHandler(reportClient, settlementService, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SettlementHandler: settlementHandler,
		InvoicingHandler:  invoicingHandler,
		ReportHandler:     reportHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
