package invoicing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/settleline/settleline/internal/settlement"
)

// Repository provides PostgreSQL backed persistence for invoice issuance.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

// CreateInvoice inserts a new draft invoice.
func (r *Repository) CreateInvoice(ctx context.Context, inv settlement.Invoice) (*settlement.Invoice, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO invoices (
			company_id, client_id, number, company_currency, client_currency,
			total_amount, total_amount_inr, client_amount, amount_paid_by_client,
			issue_rate_company_to_inr, issue_rate_inr_to_client, issue_rate_at,
			issue_date, due_date, draft, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $12, $13, TRUE, $14, $14)
		RETURNING id`,
		inv.CompanyID, inv.ClientID, inv.Number, inv.CompanyCurrency, inv.ClientCurrency,
		inv.TotalAmount, inv.TotalAmountINR, inv.ClientAmount,
		inv.IssueRate.CompanyToINR, inv.IssueRate.INRToClient, inv.IssueRate.Timestamp,
		inv.IssueDate, inv.DueDate, inv.CreatedAt,
	).Scan(&inv.ID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateNumber
		}
		return nil, err
	}
	return &inv, nil
}

// MarkSent clears the draft flag. Sending twice is rejected so callers can
// tell a repeat click from a successful transition.
func (r *Repository) MarkSent(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices SET draft = FALSE, updated_at = NOW() WHERE id = $1 AND draft`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrNotDraft
		}
		return settlement.ErrInvoiceNotFound
	}
	return nil
}
