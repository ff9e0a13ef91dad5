package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/settleline/settleline/internal/fx"
	"github.com/settleline/settleline/internal/settlement"
)

// LedgerIntegrityJob re-runs the settlement recompute over every settled
// invoice and heals aggregates that drifted from their event lists. Drift
// should never happen under normal operation; a non-zero heal count is an
// operational signal worth alerting on.
type LedgerIntegrityJob struct {
	service *settlement.Service
	logger  *slog.Logger
}

// NewLedgerIntegrityJob constructs the job.
func NewLedgerIntegrityJob(service *settlement.Service, logger *slog.Logger) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{service: service, logger: logger}
}

// Handle processes TaskLedgerIntegrity tasks.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	report, err := j.service.ReconcileAll(ctx)
	if err != nil {
		j.logger.Error("ledger integrity scan failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("ledger integrity scan completed",
		slog.Int("checked", report.Checked),
		slog.Int("healed", report.Healed),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// FXHealthcheckJob probes the conversion gateway with a round trip through
// the pivot and logs the observed latency.
type FXHealthcheckJob struct {
	gateway  fx.Gateway
	currency string
	logger   *slog.Logger
}

// NewFXHealthcheckJob constructs the job. The probe converts one unit of
// currency to the pivot; pick one the deployment actually bills in.
func NewFXHealthcheckJob(gateway fx.Gateway, currency string, logger *slog.Logger) *FXHealthcheckJob {
	if currency == "" {
		currency = "USD"
	}
	return &FXHealthcheckJob{gateway: gateway, currency: currency, logger: logger}
}

// Handle processes TaskFXHealthcheck tasks.
func (j *FXHealthcheckJob) Handle(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	one := decimal.NewFromInt(1)
	if _, err := j.gateway.ToINR(ctx, one, j.currency); err != nil {
		j.logger.Warn("fx gateway unhealthy", slog.String("currency", j.currency), slog.Any("error", err))
		return err
	}
	j.logger.Info("fx gateway healthy", slog.Duration("latency", time.Since(start)))
	return nil
}
