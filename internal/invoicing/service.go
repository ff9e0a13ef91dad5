package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/settleline/settleline/internal/fx"
	"github.com/settleline/settleline/internal/settlement"
)

// RepositoryPort defines data access methods for invoice issuance.
type RepositoryPort interface {
	CreateInvoice(ctx context.Context, inv settlement.Invoice) (*settlement.Invoice, error)
	MarkSent(ctx context.Context, id int64) error
}

// Service handles invoice issuance. Settlement-side mutations and reads
// belong to the settlement package; this service only creates documents
// and performs the manual draft exit.
type Service struct {
	repo    RepositoryPort
	gateway fx.Gateway
	logger  *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, gateway fx.Gateway, logger *slog.Logger) *Service {
	return &Service{repo: repo, gateway: gateway, logger: logger}
}

// CreateInvoice issues a draft invoice, deriving the INR and client
// currency views through the pivot at the current live rate. The issuance
// snapshot is frozen on the invoice and never reused for later payments.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*settlement.Invoice, error) {
	if in.CompanyID == 0 {
		return nil, fmt.Errorf("%w: company ID required", ErrInvalidInput)
	}
	if in.ClientID == 0 {
		return nil, fmt.Errorf("%w: client ID required", ErrInvalidInput)
	}
	if in.Number == "" {
		return nil, fmt.Errorf("%w: invoice number required", ErrInvalidInput)
	}
	if in.TotalAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total must be positive", ErrInvalidInput)
	}
	if in.CompanyCurrency == "" || in.ClientCurrency == "" {
		return nil, fmt.Errorf("%w: both currencies required", ErrInvalidInput)
	}
	if !in.DueDate.After(in.IssueDate) {
		return nil, fmt.Errorf("%w: due date must follow issue date", ErrInvalidInput)
	}

	totalINR, err := s.gateway.ToINR(ctx, in.TotalAmount, in.CompanyCurrency)
	if err != nil {
		return nil, err
	}
	if totalINR.Sign() <= 0 {
		return nil, settlement.ErrZeroConversion
	}
	clientAmount, err := s.gateway.FromINR(ctx, totalINR, in.ClientCurrency)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inv := settlement.Invoice{
		CompanyID:       in.CompanyID,
		ClientID:        in.ClientID,
		Number:          in.Number,
		CompanyCurrency: in.CompanyCurrency,
		ClientCurrency:  in.ClientCurrency,
		TotalAmount:     in.TotalAmount,
		TotalAmountINR:  totalINR,
		ClientAmount:    clientAmount,
		IssueRate: settlement.RateSnapshot{
			CompanyToINR: totalINR.Div(in.TotalAmount),
			INRToClient:  clientAmount.Div(totalINR),
			Timestamp:    now,
		},
		IssueDate: in.IssueDate,
		DueDate:   in.DueDate,
		Draft:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.repo.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice issued",
		slog.Int64("invoice_id", created.ID),
		slog.String("number", created.Number),
		slog.String("total_inr", created.TotalAmountINR.String()),
	)
	return created, nil
}

// SendInvoice clears the draft flag, the only manual state transition.
func (s *Service) SendInvoice(ctx context.Context, id int64) error {
	return s.repo.MarkSent(ctx, id)
}
