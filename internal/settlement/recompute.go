package settlement

import (
	"github.com/shopspring/decimal"
)

// Totals is the result of recomputing a Payment aggregate from its complete
// event list. Recompute is a pure function of its inputs: running it twice
// over the same list yields identical totals, which is what makes retried
// writes idempotent and the ledger self-healing after partial failures.
type Totals struct {
	TotalPaidCompany decimal.Decimal
	TotalPaidINR     decimal.Decimal
	TotalPaidClient  decimal.Decimal
	PendingINR       decimal.Decimal
	Status           AggregateStatus
	// Qualifying is the first event at which the cumulative client-currency
	// amount reached the invoice total, nil while below the threshold.
	Qualifying *PartialPayment
}

// Recompute folds the full event list into aggregate totals. Both mutation
// paths (append and delete) call this and never patch stored totals with
// deltas. Events must be in insertion order; ULID ids sort that way.
func Recompute(totalAmountINR, clientAmount decimal.Decimal, events []PartialPayment) Totals {
	t := Totals{
		TotalPaidCompany: decimal.Zero,
		TotalPaidINR:     decimal.Zero,
		TotalPaidClient:  decimal.Zero,
	}

	for i := range events {
		ev := &events[i]
		t.TotalPaidCompany = t.TotalPaidCompany.Add(ev.OriginalAmount)
		t.TotalPaidINR = t.TotalPaidINR.Add(ev.AmountINR)
		t.TotalPaidClient = t.TotalPaidClient.Add(ev.AmountClient)
		if t.Qualifying == nil && t.TotalPaidClient.GreaterThanOrEqual(clientAmount) {
			t.Qualifying = ev
		}
	}

	t.PendingINR = totalAmountINR.Sub(t.TotalPaidINR)
	if t.PendingINR.Sign() < 0 {
		t.PendingINR = decimal.Zero
	}

	switch {
	case len(events) == 0:
		t.Status = AggregatePending
	case t.Qualifying != nil:
		t.Status = AggregateCompleted
	default:
		t.Status = AggregatePartial
	}

	return t
}
