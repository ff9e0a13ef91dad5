package settlement

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/settleline/settleline/internal/fx"
)

type memoryRepo struct {
	invoices map[int64]*Invoice
	events   map[int64][]PartialPayment
	aggs     map[int64]*PaymentAggregate

	companyTotalsCalls int
	// totalsGate, when set, blocks CompanyTotals until closed so tests can
	// hold a scan in flight.
	totalsGate chan struct{}
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices: make(map[int64]*Invoice),
		events:   make(map[int64][]PartialPayment),
		aggs:     make(map[int64]*PaymentAggregate),
	}
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *memoryRepo) ListInvoicesByCompany(ctx context.Context, companyID int64) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.CompanyID == companyID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListEvents(ctx context.Context, invoiceID int64) ([]PartialPayment, error) {
	return append([]PartialPayment(nil), r.events[invoiceID]...), nil
}

func (r *memoryRepo) GetAggregate(ctx context.Context, invoiceID int64) (*PaymentAggregate, error) {
	agg, ok := r.aggs[invoiceID]
	if !ok {
		return nil, nil
	}
	cp := *agg
	return &cp, nil
}

func (r *memoryRepo) AppendEvent(ctx context.Context, invoiceID int64, build func(inv *Invoice, prior []PartialPayment) (PartialPayment, error)) (*PartialPayment, *PaymentAggregate, error) {
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return nil, nil, ErrInvoiceNotFound
	}
	prior := r.events[invoiceID]
	ev, err := build(inv, prior)
	if err != nil {
		return nil, nil, err
	}
	r.events[invoiceID] = append(prior, ev)
	agg := r.persistTotals(inv)
	return &ev, agg, nil
}

func (r *memoryRepo) RemoveEvent(ctx context.Context, invoiceID int64, eventID string) (*PaymentAggregate, error) {
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	events := r.events[invoiceID]
	var kept []PartialPayment
	found := false
	for _, ev := range events {
		if ev.ID == eventID {
			found = true
			continue
		}
		kept = append(kept, ev)
	}
	if !found {
		return nil, ErrEventNotFound
	}
	r.events[invoiceID] = kept
	return r.persistTotals(inv), nil
}

func (r *memoryRepo) persistTotals(inv *Invoice) *PaymentAggregate {
	totals := Recompute(inv.TotalAmountINR, inv.ClientAmount, r.events[inv.ID])
	inv.AmountPaidByClient = totals.TotalPaidClient
	agg := &PaymentAggregate{
		InvoiceID:        inv.ID,
		TotalPaidCompany: totals.TotalPaidCompany,
		TotalPaidINR:     totals.TotalPaidINR,
		PendingINR:       totals.PendingINR,
		Status:           totals.Status,
		UpdatedAt:        time.Now().UTC(),
	}
	r.aggs[inv.ID] = agg
	cp := *agg
	return &cp
}

func (r *memoryRepo) CompanyTotals(ctx context.Context, companyID int64) (CompanyTotals, error) {
	r.companyTotalsCalls++
	if r.totalsGate != nil {
		<-r.totalsGate
	}
	totals := CompanyTotals{TotalReceived: decimal.Zero, TotalPending: decimal.Zero}
	for _, inv := range r.invoices {
		if inv.CompanyID != companyID {
			continue
		}
		for _, ev := range r.events[inv.ID] {
			totals.TotalReceived = totals.TotalReceived.Add(ev.OriginalAmount)
		}
		if inv.Draft {
			continue
		}
		open := inv.ClientAmount.Sub(inv.AmountPaidByClient)
		if open.Sign() > 0 {
			totals.TotalPending = totals.TotalPending.Add(open)
		}
	}
	return totals, nil
}

func (r *memoryRepo) ListSettledInvoiceIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id := range r.aggs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memoryRepo) Reconcile(ctx context.Context, invoiceID int64) (bool, error) {
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return false, ErrInvoiceNotFound
	}
	totals := Recompute(inv.TotalAmountINR, inv.ClientAmount, r.events[invoiceID])
	stored := r.aggs[invoiceID]
	drifted := stored == nil ||
		!stored.TotalPaidINR.Equal(totals.TotalPaidINR) ||
		!stored.PendingINR.Equal(totals.PendingINR) ||
		stored.Status != totals.Status ||
		!inv.AmountPaidByClient.Equal(totals.TotalPaidClient)
	if drifted {
		r.persistTotals(inv)
	}
	return drifted, nil
}

// stubGateway converts with fixed deterministic rates. A multiplier takes a
// company amount to INR; a divisor takes INR to the client currency, so the
// worked numbers stay exact.
type stubGateway struct {
	toINRRate  map[string]decimal.Decimal
	fromINRDiv map[string]decimal.Decimal
	fail       bool
}

func (g *stubGateway) ToINR(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	if g.fail {
		return decimal.Zero, fx.ErrUnavailable
	}
	return amount.Mul(g.toINRRate[currency]), nil
}

func (g *stubGateway) FromINR(ctx context.Context, amountINR decimal.Decimal, currency string) (decimal.Decimal, error) {
	if g.fail {
		return decimal.Zero, fx.ErrUnavailable
	}
	return amountINR.Div(g.fromINRDiv[currency]), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Invoice for AED 40000-a-piece payments: total 80000 AED = 75000 INR =
// 1000 USD, due 2024-06-30. AED→INR at 0.9375, INR→USD at 1/75.
func seedInvoice(repo *memoryRepo) *Invoice {
	inv := &Invoice{
		ID:              1,
		CompanyID:       7,
		ClientID:        9,
		Number:          "INV-2024-001",
		CompanyCurrency: "AED",
		ClientCurrency:  "USD",
		TotalAmount:     d("80000"),
		TotalAmountINR:  d("75000"),
		ClientAmount:    d("1000"),
		IssueRate: RateSnapshot{
			CompanyToINR: d("0.9375"),
			INRToClient:  d("0.0133333333"),
			Timestamp:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		IssueDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	repo.invoices[inv.ID] = inv
	return inv
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		toINRRate:  map[string]decimal.Decimal{"AED": d("0.9375"), "USD": d("83.5")},
		fromINRDiv: map[string]decimal.Decimal{"USD": d("75"), "EUR": d("90")},
	}
}

func TestRecordPayment(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	svc := NewService(repo, newStubGateway(), testLogger())

	receipt, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{
		Amount:      d("40000"),
		Method:      MethodNEFT,
		PaymentDate: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	ev := receipt.Event
	require.NotEmpty(t, ev.ID)
	require.True(t, ev.AmountINR.Equal(d("37500")), "got %s", ev.AmountINR)
	require.True(t, ev.AmountClient.Equal(d("500")), "got %s", ev.AmountClient)
	require.True(t, ev.Rate.CompanyToINR.Equal(d("0.9375")))
	require.True(t, ev.PendingINRAfter.Equal(d("37500")))

	agg := receipt.Aggregate
	require.Equal(t, AggregatePartial, agg.Status)
	require.True(t, agg.TotalPaidINR.Equal(d("37500")))
	require.True(t, agg.PendingINR.Equal(d("37500")))

	view, err := svc.GetInvoice(ctx, 1, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, view.Status)
}

func TestRecordPaymentCompletesInvoice(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	svc := NewService(repo, newStubGateway(), testLogger())

	_, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{
		Amount: d("40000"), Method: MethodNEFT,
		PaymentDate: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	receipt, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{
		Amount: d("40000"), Method: MethodRTGS,
		PaymentDate: time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Equal(t, AggregateCompleted, receipt.Aggregate.Status)
	require.True(t, receipt.Aggregate.PendingINR.IsZero())
	require.True(t, receipt.Event.PendingINRAfter.IsZero())

	view, err := svc.GetInvoice(ctx, 1, time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, StatusPaid, view.Status)
}

func TestRecordPaymentValidation(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	svc := NewService(repo, newStubGateway(), testLogger())

	_, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{Amount: d("0"), Method: MethodNEFT})
	require.ErrorIs(t, err, ErrAmountNotPositive)

	_, err = svc.RecordPayment(ctx, 1, RecordPaymentInput{Amount: d("-5"), Method: MethodNEFT})
	require.ErrorIs(t, err, ErrAmountNotPositive)

	_, err = svc.RecordPayment(ctx, 1, RecordPaymentInput{Amount: d("100"), Method: "barter"})
	require.ErrorIs(t, err, ErrInvalidMethod)

	_, err = svc.RecordPayment(ctx, 99, RecordPaymentInput{Amount: d("100"), Method: MethodNEFT})
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestRecordPaymentGatewayFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	gw := newStubGateway()
	gw.fail = true
	svc := NewService(repo, gw, testLogger())

	_, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{Amount: d("40000"), Method: MethodNEFT})
	require.ErrorIs(t, err, fx.ErrUnavailable)

	require.Empty(t, repo.events[1])
	require.Nil(t, repo.aggs[1])
	require.True(t, repo.invoices[1].AmountPaidByClient.IsZero())
}

func TestRecordPaymentZeroConversion(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	gw := newStubGateway()
	gw.toINRRate["AED"] = decimal.Zero
	svc := NewService(repo, gw, testLogger())

	_, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{Amount: d("40000"), Method: MethodNEFT})
	require.ErrorIs(t, err, ErrZeroConversion)
	require.Empty(t, repo.events[1])
}

// Deleting the second payment must restore exactly the single-payment state:
// totals, pending balance, aggregate status, and the derived invoice status
// all match what they were before the second payment existed.
func TestDeletePaymentRestoresPriorState(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	svc := NewService(repo, newStubGateway(), testLogger())

	first, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{
		Amount: d("40000"), Method: MethodNEFT,
		PaymentDate: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	before := *repo.aggs[1]

	second, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{
		Amount: d("40000"), Method: MethodUPI,
		PaymentDate: time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, AggregateCompleted, second.Aggregate.Status)

	require.NoError(t, svc.DeletePayment(ctx, 1, second.Event.ID))

	after := repo.aggs[1]
	require.Equal(t, before.Status, after.Status)
	require.True(t, before.TotalPaidCompany.Equal(after.TotalPaidCompany))
	require.True(t, before.TotalPaidINR.Equal(after.TotalPaidINR))
	require.True(t, before.PendingINR.Equal(after.PendingINR))

	ledger, err := svc.ListPayments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ledger.Events, 1)
	require.Equal(t, first.Event.ID, ledger.Events[0].ID)

	view, err := svc.GetInvoice(ctx, 1, time.Date(2024, 6, 25, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, view.Status)
}

func TestDeletePaymentUnknownEvent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	svc := NewService(repo, newStubGateway(), testLogger())

	err := svc.DeletePayment(ctx, 1, "01J0000000000000000000000X")
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestListPaymentsNeverPaid(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	svc := NewService(repo, newStubGateway(), testLogger())

	ledger, err := svc.ListPayments(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, ledger.Events)
	require.Equal(t, AggregatePending, ledger.Aggregate.Status)
	require.True(t, ledger.Aggregate.PendingINR.Equal(d("75000")))
}

func TestGetInvoiceLateSettlement(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	svc := NewService(repo, newStubGateway(), testLogger())

	_, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{
		Amount: d("80000"), Method: MethodCheque,
		PaymentDate: time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	view, err := svc.GetInvoice(ctx, 1, time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, StatusPaidAfterDue, view.Status)
}

func TestListInvoices(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	repo.invoices[2] = &Invoice{
		ID: 2, CompanyID: 7, ClientID: 9, Number: "INV-2024-002",
		CompanyCurrency: "AED", ClientCurrency: "USD",
		TotalAmount: d("8000"), TotalAmountINR: d("7500"), ClientAmount: d("100"),
		IssueDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	}
	svc := NewService(repo, newStubGateway(), testLogger())

	views, err := svc.ListInvoices(ctx, 7, time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, views, 2)

	byNumber := map[string]InvoiceStatus{}
	for _, v := range views {
		byNumber[v.Number] = v.Status
	}
	require.Equal(t, StatusSent, byNumber["INV-2024-001"])
	require.Equal(t, StatusOverdue, byNumber["INV-2024-002"])
}

func TestCompanyTotals(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	svc := NewService(repo, newStubGateway(), testLogger())

	_, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{
		Amount: d("40000"), Method: MethodNEFT,
		PaymentDate: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	totals, err := svc.CompanyTotals(ctx, 7)
	require.NoError(t, err)
	require.True(t, totals.TotalReceived.Equal(d("40000")))
	require.True(t, totals.TotalPending.Equal(d("500")))
}

// Concurrent identical scans must collapse onto a single repository query,
// with every caller receiving that one result.
func TestCompanyTotalsCollapsesConcurrentScans(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	repo.totalsGate = make(chan struct{})
	svc := NewService(repo, newStubGateway(), testLogger())

	const callers = 4
	var wg sync.WaitGroup
	results := make([]CompanyTotals, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.CompanyTotals(ctx, 7)
		}(i)
	}

	// Let every caller join the in-flight scan before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(repo.totalsGate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.True(t, results[i].TotalPending.Equal(d("1000")))
	}
	require.Equal(t, 1, repo.companyTotalsCalls)
}

func TestReconcileAllHealsDrift(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	seedInvoice(repo)
	svc := NewService(repo, newStubGateway(), testLogger())

	_, err := svc.RecordPayment(ctx, 1, RecordPaymentInput{
		Amount: d("40000"), Method: MethodNEFT,
		PaymentDate: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// Corrupt the stored aggregate behind the service's back.
	repo.aggs[1].TotalPaidINR = d("1")

	report, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 1, report.Healed)
	require.True(t, repo.aggs[1].TotalPaidINR.Equal(d("37500")))

	report, err = svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.Healed)
}
