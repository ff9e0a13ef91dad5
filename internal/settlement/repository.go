package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/settleline/settleline/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the settlement
// engine. PartialPayment events live in the append-only partial_payments
// table, one row per event; the whole-array read-modify-write pattern does
// not exist here, which closes the lost-update race between concurrent
// payment recordings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const txAttempts = 3

const invoiceColumns = `
	id, company_id, client_id, number, company_currency, client_currency,
	total_amount, total_amount_inr, client_amount, amount_paid_by_client,
	issue_rate_company_to_inr, issue_rate_inr_to_client, issue_rate_at,
	issue_date, due_date, draft, created_at, updated_at`

const eventColumns = `
	id, invoice_id, paid_at, method, original_amount, amount_inr,
	amount_client, rate_company_to_inr, rate_inr_to_client, rate_at,
	pending_inr_after, created_at`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// GetInvoice retrieves an invoice by ID.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.CompanyID, &inv.ClientID, &inv.Number,
		&inv.CompanyCurrency, &inv.ClientCurrency,
		&inv.TotalAmount, &inv.TotalAmountINR, &inv.ClientAmount, &inv.AmountPaidByClient,
		&inv.IssueRate.CompanyToINR, &inv.IssueRate.INRToClient, &inv.IssueRate.Timestamp,
		&inv.IssueDate, &inv.DueDate, &inv.Draft, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInvoicesByCompany returns all invoices for a company.
func (r *Repository) ListInvoicesByCompany(ctx context.Context, companyID int64) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE company_id = $1 ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		err := rows.Scan(
			&inv.ID, &inv.CompanyID, &inv.ClientID, &inv.Number,
			&inv.CompanyCurrency, &inv.ClientCurrency,
			&inv.TotalAmount, &inv.TotalAmountINR, &inv.ClientAmount, &inv.AmountPaidByClient,
			&inv.IssueRate.CompanyToINR, &inv.IssueRate.INRToClient, &inv.IssueRate.Timestamp,
			&inv.IssueDate, &inv.DueDate, &inv.Draft, &inv.CreatedAt, &inv.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// ListEvents returns the event list in insertion order.
func (r *Repository) ListEvents(ctx context.Context, invoiceID int64) ([]PartialPayment, error) {
	return listEvents(ctx, r.pool, invoiceID)
}

func listEvents(ctx context.Context, q rowQuerier, invoiceID int64) ([]PartialPayment, error) {
	rows, err := q.Query(ctx,
		`SELECT `+eventColumns+` FROM partial_payments WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []PartialPayment
	for rows.Next() {
		var ev PartialPayment
		err := rows.Scan(
			&ev.ID, &ev.InvoiceID, &ev.PaidAt, &ev.Method,
			&ev.OriginalAmount, &ev.AmountINR, &ev.AmountClient,
			&ev.Rate.CompanyToINR, &ev.Rate.INRToClient, &ev.Rate.Timestamp,
			&ev.PendingINRAfter, &ev.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetAggregate returns the Payment aggregate, or nil when the invoice has
// never been paid.
func (r *Repository) GetAggregate(ctx context.Context, invoiceID int64) (*PaymentAggregate, error) {
	var agg PaymentAggregate
	err := r.pool.QueryRow(ctx, `
		SELECT invoice_id, total_paid_company, total_paid_inr, pending_inr, status, updated_at
		FROM payment_aggregates WHERE invoice_id = $1`, invoiceID,
	).Scan(&agg.InvoiceID, &agg.TotalPaidCompany, &agg.TotalPaidINR, &agg.PendingINR, &agg.Status, &agg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// AppendEvent inserts a new event and recomputes the aggregate inside one
// RepeatableRead transaction. Concurrent appends to the same invoice
// conflict on the summary rows and retry.
func (r *Repository) AppendEvent(ctx context.Context, invoiceID int64, build func(inv *Invoice, prior []PartialPayment) (PartialPayment, error)) (*PartialPayment, *PaymentAggregate, error) {
	var (
		stored PartialPayment
		agg    *PaymentAggregate
	)

	err := db.WithTxRetry(ctx, r.pool, txAttempts, func(tx pgx.Tx) error {
		inv, err := scanInvoice(tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID))
		if err != nil {
			return err
		}

		prior, err := listEvents(ctx, tx, invoiceID)
		if err != nil {
			return err
		}

		ev, err := build(inv, prior)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO partial_payments (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			ev.ID, ev.InvoiceID, ev.PaidAt, ev.Method,
			ev.OriginalAmount, ev.AmountINR, ev.AmountClient,
			ev.Rate.CompanyToINR, ev.Rate.INRToClient, ev.Rate.Timestamp,
			ev.PendingINRAfter, ev.CreatedAt,
		)
		if err != nil {
			return err
		}

		agg, err = persistTotals(ctx, tx, inv, append(prior, ev))
		if err != nil {
			return err
		}
		stored = ev
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &stored, agg, nil
}

// RemoveEvent deletes one event by id and recomputes the aggregate from the
// remaining list, using the same routine as AppendEvent.
func (r *Repository) RemoveEvent(ctx context.Context, invoiceID int64, eventID string) (*PaymentAggregate, error) {
	var agg *PaymentAggregate

	err := db.WithTxRetry(ctx, r.pool, txAttempts, func(tx pgx.Tx) error {
		inv, err := scanInvoice(tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID))
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM partial_payments WHERE id = $1 AND invoice_id = $2`, eventID, invoiceID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrEventNotFound
		}

		remaining, err := listEvents(ctx, tx, invoiceID)
		if err != nil {
			return err
		}

		agg, err = persistTotals(ctx, tx, inv, remaining)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// persistTotals recomputes the aggregate from the complete event list and
// writes the Payment aggregate first, then the invoice summary field. Both
// mutation paths share this routine.
func persistTotals(ctx context.Context, tx pgx.Tx, inv *Invoice, events []PartialPayment) (*PaymentAggregate, error) {
	totals := Recompute(inv.TotalAmountINR, inv.ClientAmount, events)
	now := time.Now().UTC()

	_, err := tx.Exec(ctx, `
		INSERT INTO payment_aggregates (invoice_id, total_paid_company, total_paid_inr, pending_inr, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (invoice_id) DO UPDATE SET
			total_paid_company = EXCLUDED.total_paid_company,
			total_paid_inr = EXCLUDED.total_paid_inr,
			pending_inr = EXCLUDED.pending_inr,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		inv.ID, totals.TotalPaidCompany, totals.TotalPaidINR, totals.PendingINR, string(totals.Status), now,
	)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE invoices SET amount_paid_by_client = $2, updated_at = $3 WHERE id = $1`,
		inv.ID, totals.TotalPaidClient, now,
	)
	if err != nil {
		return nil, err
	}

	return &PaymentAggregate{
		InvoiceID:        inv.ID,
		TotalPaidCompany: totals.TotalPaidCompany,
		TotalPaidINR:     totals.TotalPaidINR,
		PendingINR:       totals.PendingINR,
		Status:           totals.Status,
		UpdatedAt:        now,
	}, nil
}

// CompanyTotals scans the company ledger: total received is the sum of
// original payment amounts over all events, total pending the sum of open
// client-currency balances.
func (r *Repository) CompanyTotals(ctx context.Context, companyID int64) (CompanyTotals, error) {
	var totals CompanyTotals

	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(pp.original_amount), 0)
		FROM partial_payments pp
		JOIN invoices i ON i.id = pp.invoice_id
		WHERE i.company_id = $1`, companyID,
	).Scan(&totals.TotalReceived)
	if err != nil {
		return CompanyTotals{}, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(GREATEST(client_amount - amount_paid_by_client, 0)), 0)
		FROM invoices
		WHERE company_id = $1 AND NOT draft`, companyID,
	).Scan(&totals.TotalPending)
	if err != nil {
		return CompanyTotals{}, err
	}

	return totals, nil
}

// ListSettledInvoiceIDs returns every invoice that has a Payment aggregate.
func (r *Repository) ListSettledInvoiceIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT invoice_id FROM payment_aggregates ORDER BY invoice_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Reconcile recomputes one invoice's aggregate from its event list and
// rewrites the stored rows. Returns true when any stored field had drifted.
func (r *Repository) Reconcile(ctx context.Context, invoiceID int64) (bool, error) {
	var drifted bool

	err := db.WithTxRetry(ctx, r.pool, txAttempts, func(tx pgx.Tx) error {
		inv, err := scanInvoice(tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID))
		if err != nil {
			return err
		}

		events, err := listEvents(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		totals := Recompute(inv.TotalAmountINR, inv.ClientAmount, events)

		var stored PaymentAggregate
		err = tx.QueryRow(ctx, `
			SELECT total_paid_company, total_paid_inr, pending_inr, status
			FROM payment_aggregates WHERE invoice_id = $1`, invoiceID,
		).Scan(&stored.TotalPaidCompany, &stored.TotalPaidINR, &stored.PendingINR, &stored.Status)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		drifted = errors.Is(err, pgx.ErrNoRows) ||
			!stored.TotalPaidCompany.Equal(totals.TotalPaidCompany) ||
			!stored.TotalPaidINR.Equal(totals.TotalPaidINR) ||
			!stored.PendingINR.Equal(totals.PendingINR) ||
			stored.Status != totals.Status ||
			!inv.AmountPaidByClient.Equal(totals.TotalPaidClient)

		if !drifted {
			return nil
		}

		_, err = persistTotals(ctx, tx, inv, events)
		return err
	})
	if err != nil {
		return false, err
	}
	return drifted, nil
}
