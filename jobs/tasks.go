package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity re-verifies every Payment aggregate against its
	// event list.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskFXHealthcheck probes the exchange conversion gateway.
	TaskFXHealthcheck = "fx:healthcheck"
)

// NewLedgerIntegrityTask constructs an Asynq task for the integrity scan.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}

// NewFXHealthcheckTask constructs an Asynq task for the gateway probe.
func NewFXHealthcheckTask() *asynq.Task {
	return asynq.NewTask(TaskFXHealthcheck, nil)
}
