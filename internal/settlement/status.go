package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusInput carries everything status derivation needs. Callers build it
// from current ledger state; nothing here is cached or stored.
type StatusInput struct {
	Draft              bool
	AmountPaidByClient decimal.Decimal
	ClientAmount       decimal.Decimal
	DueDate            time.Time
	Now                time.Time
	// QualifyingPaidAt is the payment date of the event whose application
	// first reached the invoice total, nil while below the threshold.
	QualifyingPaidAt *time.Time
}

// DeriveStatus computes the invoice status from ledger state and the clock.
// Rules are evaluated in order, first match wins. This is the only status
// derivation in the codebase; every reader goes through it.
func DeriveStatus(in StatusInput) InvoiceStatus {
	if in.Draft {
		return StatusDraft
	}

	paid := in.AmountPaidByClient
	total := in.ClientAmount
	pastDue := in.Now.After(in.DueDate)

	if paid.IsZero() && !pastDue {
		return StatusSent
	}
	if paid.Sign() > 0 && paid.LessThan(total) && !pastDue {
		return StatusPartiallyPaid
	}
	if paid.LessThan(total) && pastDue {
		return StatusOverdue
	}

	// Threshold reached. A missing qualifying event can only happen for a
	// zero-total invoice with no payments; treat it as settled on time.
	if in.QualifyingPaidAt == nil || !in.QualifyingPaidAt.After(in.DueDate) {
		return StatusPaid
	}
	return StatusPaidAfterDue
}
