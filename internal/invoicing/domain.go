package invoicing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotDraft indicates the send action hit an already-sent invoice.
	ErrNotDraft = errors.New("invoicing: invoice already sent")
	// ErrDuplicateNumber indicates the invoice number is taken within the company.
	ErrDuplicateNumber = errors.New("invoicing: invoice number already exists")
	// ErrInvalidInput wraps issuance input validation failures.
	ErrInvalidInput = errors.New("invoicing: invalid input")
)

// CreateInvoiceInput describes an invoice to issue. TotalAmount is in the
// company's native currency; the INR and client-currency views are derived
// at issuance through the pivot and frozen.
type CreateInvoiceInput struct {
	CompanyID       int64
	ClientID        int64
	Number          string
	CompanyCurrency string
	ClientCurrency  string
	TotalAmount     decimal.Decimal
	IssueDate       time.Time
	DueDate         time.Time
}
