package settlement

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/settleline/settleline/internal/fx"
)

// RepositoryPort defines data access methods for the settlement engine.
type RepositoryPort interface {
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoicesByCompany(ctx context.Context, companyID int64) ([]Invoice, error)
	ListEvents(ctx context.Context, invoiceID int64) ([]PartialPayment, error)
	GetAggregate(ctx context.Context, invoiceID int64) (*PaymentAggregate, error)
	// AppendEvent inserts the event returned by build and recomputes the
	// aggregate within one transaction. build receives the invoice and the
	// prior event list as read inside that transaction.
	AppendEvent(ctx context.Context, invoiceID int64, build func(inv *Invoice, prior []PartialPayment) (PartialPayment, error)) (*PartialPayment, *PaymentAggregate, error)
	// RemoveEvent deletes one event by id and recomputes the aggregate
	// within one transaction.
	RemoveEvent(ctx context.Context, invoiceID int64, eventID string) (*PaymentAggregate, error)
	CompanyTotals(ctx context.Context, companyID int64) (CompanyTotals, error)
	ListSettledInvoiceIDs(ctx context.Context) ([]int64, error)
	// Reconcile re-runs the aggregate recomputation for one invoice and
	// reports whether any stored field had drifted.
	Reconcile(ctx context.Context, invoiceID int64) (bool, error)
}

// Service owns the payment event model and the accumulation algorithms.
type Service struct {
	repo        RepositoryPort
	gateway     fx.Gateway
	logger      *slog.Logger
	totalsGroup singleflight.Group
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, gateway fx.Gateway, logger *slog.Logger) *Service {
	return &Service{repo: repo, gateway: gateway, logger: logger}
}

// RecordPaymentInput describes one cash receipt in company currency.
type RecordPaymentInput struct {
	Amount      decimal.Decimal
	Method      PaymentMethod
	PaymentDate time.Time
}

// PaymentReceipt is the result of recording a payment.
type PaymentReceipt struct {
	Event     PartialPayment   `json:"event"`
	Aggregate PaymentAggregate `json:"aggregate"`
}

// RecordPayment converts the amount through the INR pivot and appends a
// PartialPayment event. Conversion and validation complete before anything
// is written; a gateway failure therefore leaves the ledger untouched.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, in RecordPaymentInput) (*PaymentReceipt, error) {
	if in.Amount.Sign() <= 0 {
		return nil, ErrAmountNotPositive
	}
	if !in.Method.IsValid() {
		return nil, ErrInvalidMethod
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	// Two-hop pivot: exactly one toINR then one fromINR, chained through
	// the INR value, so both derived amounts share one cross-rate.
	amountINR, err := s.gateway.ToINR(ctx, in.Amount, inv.CompanyCurrency)
	if err != nil {
		return nil, err
	}
	if amountINR.Sign() <= 0 {
		return nil, ErrZeroConversion
	}
	amountClient, err := s.gateway.FromINR(ctx, amountINR, inv.ClientCurrency)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	paidAt := in.PaymentDate
	if paidAt.IsZero() {
		paidAt = now
	}

	ev := PartialPayment{
		ID:             ulid.Make().String(),
		InvoiceID:      invoiceID,
		PaidAt:         paidAt,
		Method:         in.Method,
		OriginalAmount: in.Amount,
		AmountINR:      amountINR,
		AmountClient:   amountClient,
		Rate: RateSnapshot{
			CompanyToINR: amountINR.Div(in.Amount),
			INRToClient:  amountClient.Div(amountINR),
			Timestamp:    now,
		},
		CreatedAt: now,
	}

	stored, agg, err := s.repo.AppendEvent(ctx, invoiceID, func(inv *Invoice, prior []PartialPayment) (PartialPayment, error) {
		priorINR := decimal.Zero
		for i := range prior {
			priorINR = priorINR.Add(prior[i].AmountINR)
		}
		pending := inv.TotalAmountINR.Sub(priorINR).Sub(amountINR)
		if pending.Sign() < 0 {
			pending = decimal.Zero
		}
		ev.PendingINRAfter = pending
		return ev, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		slog.Int64("invoice_id", invoiceID),
		slog.String("event_id", stored.ID),
		slog.String("method", string(stored.Method)),
		slog.String("amount_inr", stored.AmountINR.String()),
	)

	return &PaymentReceipt{Event: *stored, Aggregate: *agg}, nil
}

// DeletePayment removes one event by id and recomputes the aggregate from
// the remaining list. Status needs no separate revert: the next read
// derives it from the reduced ledger.
func (s *Service) DeletePayment(ctx context.Context, invoiceID int64, eventID string) error {
	agg, err := s.repo.RemoveEvent(ctx, invoiceID, eventID)
	if err != nil {
		return err
	}

	s.logger.Info("payment deleted",
		slog.Int64("invoice_id", invoiceID),
		slog.String("event_id", eventID),
		slog.String("status", string(agg.Status)),
	)
	return nil
}

// InvoiceView is an invoice with its derived status.
type InvoiceView struct {
	Invoice
	Status    InvoiceStatus
	Aggregate PaymentAggregate
}

// GetInvoice returns the invoice with its status derived from the current
// event list. asOf zero means now.
func (s *Service) GetInvoice(ctx context.Context, id int64, asOf time.Time) (*InvoiceView, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.buildView(inv, events, asOf), nil
}

// ListInvoices returns a company's invoices with derived statuses.
func (s *Service) ListInvoices(ctx context.Context, companyID int64, asOf time.Time) ([]InvoiceView, error) {
	invoices, err := s.repo.ListInvoicesByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	views := make([]InvoiceView, 0, len(invoices))
	for i := range invoices {
		events, err := s.repo.ListEvents(ctx, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		views = append(views, *s.buildView(&invoices[i], events, asOf))
	}
	return views, nil
}

func (s *Service) buildView(inv *Invoice, events []PartialPayment, asOf time.Time) *InvoiceView {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	totals := Recompute(inv.TotalAmountINR, inv.ClientAmount, events)

	var qualifyingAt *time.Time
	if totals.Qualifying != nil {
		t := totals.Qualifying.PaidAt
		qualifyingAt = &t
	}

	status := DeriveStatus(StatusInput{
		Draft:              inv.Draft,
		AmountPaidByClient: totals.TotalPaidClient,
		ClientAmount:       inv.ClientAmount,
		DueDate:            inv.DueDate,
		Now:                asOf,
		QualifyingPaidAt:   qualifyingAt,
	})

	return &InvoiceView{
		Invoice: *inv,
		Status:  status,
		Aggregate: PaymentAggregate{
			InvoiceID:        inv.ID,
			TotalPaidCompany: totals.TotalPaidCompany,
			TotalPaidINR:     totals.TotalPaidINR,
			PendingINR:       totals.PendingINR,
			Status:           totals.Status,
		},
	}
}

// PaymentLedger bundles an invoice's event list with its aggregate.
type PaymentLedger struct {
	Events    []PartialPayment `json:"events"`
	Aggregate PaymentAggregate `json:"aggregate"`
}

// ListPayments returns the full event list plus the stored aggregate. An
// invoice that was never paid gets a synthetic pending aggregate.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) (*PaymentLedger, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	agg, err := s.repo.GetAggregate(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		agg = &PaymentAggregate{
			InvoiceID:        invoiceID,
			TotalPaidCompany: decimal.Zero,
			TotalPaidINR:     decimal.Zero,
			PendingINR:       inv.TotalAmountINR,
			Status:           AggregatePending,
		}
	}
	if events == nil {
		events = []PartialPayment{}
	}
	return &PaymentLedger{Events: events, Aggregate: *agg}, nil
}

// CompanyTotals scans the company's ledger. Concurrent identical scans are
// collapsed with singleflight; results are never cached.
func (s *Service) CompanyTotals(ctx context.Context, companyID int64) (CompanyTotals, error) {
	key := strconv.FormatInt(companyID, 10)
	resultChan := s.totalsGroup.DoChan(key, func() (any, error) {
		return s.repo.CompanyTotals(context.WithoutCancel(ctx), companyID)
	})
	select {
	case <-ctx.Done():
		return CompanyTotals{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return CompanyTotals{}, res.Err
		}
		return res.Val.(CompanyTotals), nil
	}
}

// ReconcileReport summarises one integrity scan pass.
type ReconcileReport struct {
	Checked int
	Healed  int
}

// ReconcileAll re-runs the recompute routine over every settled invoice and
// repairs any aggregate that drifted from its event list.
func (s *Service) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	ids, err := s.repo.ListSettledInvoiceIDs(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	var report ReconcileReport
	for _, id := range ids {
		healed, err := s.repo.Reconcile(ctx, id)
		if err != nil {
			return report, err
		}
		report.Checked++
		if healed {
			report.Healed++
			s.logger.Warn("ledger drift healed", slog.Int64("invoice_id", id))
		}
	}
	return report, nil
}
