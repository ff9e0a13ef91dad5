package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates derived invoice lifecycle states. Apart from
// draft, which only user action sets, every state is recomputed on read
// from the ledger and the clock; none of them is stored.
type InvoiceStatus string

const (
	StatusDraft         InvoiceStatus = "draft"
	StatusSent          InvoiceStatus = "sent"
	StatusPartiallyPaid InvoiceStatus = "partially-paid"
	StatusOverdue       InvoiceStatus = "overdue"
	StatusPaid          InvoiceStatus = "paid"
	StatusPaidAfterDue  InvoiceStatus = "paid-after-due"
)

// AggregateStatus is the coarse three-state rollup stored on the Payment
// aggregate. It is a recomputed cache, written only in the same transaction
// as the ledger mutation that changes its inputs.
type AggregateStatus string

const (
	AggregatePending   AggregateStatus = "pending"
	AggregatePartial   AggregateStatus = "partial"
	AggregateCompleted AggregateStatus = "completed"
)

// PaymentMethod identifies how a cash receipt was remitted.
type PaymentMethod string

const (
	MethodNEFT       PaymentMethod = "neft"
	MethodRTGS       PaymentMethod = "rtgs"
	MethodIMPS       PaymentMethod = "imps"
	MethodUPI        PaymentMethod = "upi"
	MethodCash       PaymentMethod = "cash"
	MethodCreditCard PaymentMethod = "credit_card"
	MethodDebitCard  PaymentMethod = "debit_card"
	MethodCheque     PaymentMethod = "cheque"
)

// IsValid reports whether the method is one of the supported channels.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodNEFT, MethodRTGS, MethodIMPS, MethodUPI, MethodCash, MethodCreditCard, MethodDebitCard, MethodCheque:
		return true
	}
	return false
}

// RateSnapshot freezes the two pivot rates in force at a single instant.
// Snapshots are written once and never recomputed, even if live rates move.
type RateSnapshot struct {
	CompanyToINR decimal.Decimal `json:"company_to_inr"`
	INRToClient  decimal.Decimal `json:"inr_to_client"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Invoice model. The three monetary fields TotalAmount, TotalAmountINR and
// ClientAmount are currency views of the same economic amount, fixed at
// issuance through the INR pivot. AmountPaidByClient is the running sum of
// AmountClient across this invoice's payment events and is the single field
// status derivation consumes.
type Invoice struct {
	ID                 int64           `json:"id"`
	CompanyID          int64           `json:"company_id"`
	ClientID           int64           `json:"client_id"`
	Number             string          `json:"number"`
	CompanyCurrency    string          `json:"company_currency"`
	ClientCurrency     string          `json:"client_currency"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalAmountINR     decimal.Decimal `json:"total_amount_inr"`
	ClientAmount       decimal.Decimal `json:"client_amount"`
	AmountPaidByClient decimal.Decimal `json:"amount_paid_by_client"`
	IssueRate          RateSnapshot    `json:"issue_rate"`
	IssueDate          time.Time       `json:"issue_date"`
	DueDate            time.Time       `json:"due_date"`
	Draft              bool            `json:"draft"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// PartialPayment is one immutable recorded cash receipt. OriginalAmount is
// the user-entered amount in company currency; AmountINR and AmountClient
// were both derived from it through a single INR intermediate at submission
// time, so their implied cross-rate is always Rate.INRToClient divided by
// Rate.CompanyToINR. PendingINRAfter is the aggregate balance immediately
// after this event applied, kept for audit display only.
type PartialPayment struct {
	ID              string          `json:"id"`
	InvoiceID       int64           `json:"invoice_id"`
	PaidAt          time.Time       `json:"paid_at"`
	Method          PaymentMethod   `json:"method"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	AmountINR       decimal.Decimal `json:"amount_inr"`
	AmountClient    decimal.Decimal `json:"amount_client"`
	Rate            RateSnapshot    `json:"rate"`
	PendingINRAfter decimal.Decimal `json:"pending_inr_after"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PaymentAggregate is the per-invoice rollup of all PartialPayment events.
// Created lazily on the first payment; every field except the key is fully
// recomputed from the event list on every mutation.
type PaymentAggregate struct {
	InvoiceID        int64           `json:"invoice_id"`
	TotalPaidCompany decimal.Decimal `json:"total_paid_company"`
	TotalPaidINR     decimal.Decimal `json:"total_paid_inr"`
	PendingINR       decimal.Decimal `json:"pending_inr"`
	Status           AggregateStatus `json:"status"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CompanyTotals summarises a company's ledger: total received in company
// currency and total still pending in client currency.
type CompanyTotals struct {
	TotalReceived decimal.Decimal `json:"total_received"`
	TotalPending  decimal.Decimal `json:"total_pending"`
}
