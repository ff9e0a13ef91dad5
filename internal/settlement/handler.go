package settlement

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/settleline/settleline/internal/fx"
	"github.com/settleline/settleline/internal/observability"
	"github.com/settleline/settleline/internal/platform/httpx"
	"github.com/settleline/settleline/internal/shared"
)

// Handler manages settlement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	idem    *shared.IdempotencyGuard
	metrics *observability.Metrics
	valid   *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idem *shared.IdempotencyGuard, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, idem: idem, metrics: metrics, valid: validator.New()}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.listInvoices)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Get("/invoices/{id}/payments", h.listPayments)
	r.Post("/invoices/{id}/payments", h.recordPayment)
	r.Delete("/invoices/{id}/payments/{eventID}", h.deletePayment)
	r.Get("/companies/{companyID}/totals", h.companyTotals)
}

type recordPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Method      string          `json:"method" validate:"required,oneof=neft rtgs imps upi cash credit_card debit_card cheque"`
	PaymentDate string          `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.valid.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	var paidAt time.Time
	if req.PaymentDate != "" {
		paidAt, _ = time.Parse("2006-01-02", req.PaymentDate)
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if err := h.idem.CheckAndSet(r.Context(), idemKey, "settlement.record"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", "payment already recorded for this idempotency key")
				return
			}
			h.logger.Error("idempotency check", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
	}

	receipt, err := h.service.RecordPayment(r.Context(), invoiceID, RecordPaymentInput{
		Amount:      req.Amount,
		Method:      PaymentMethod(req.Method),
		PaymentDate: paidAt,
	})
	if err != nil {
		if idemKey != "" {
			// A failed recording must not burn the key.
			if relErr := h.idem.Release(r.Context(), idemKey, "settlement.record"); relErr != nil {
				h.logger.Warn("idempotency release", slog.Any("error", relErr))
			}
		}
		h.logger.Error("record payment", slog.Any("error", err), slog.Int64("invoice_id", invoiceID))
		h.respondError(w, err)
		return
	}

	h.metrics.PaymentRecorded(req.Method)
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	eventID := chi.URLParam(r, "eventID")

	if err := h.service.DeletePayment(r.Context(), invoiceID, eventID); err != nil {
		h.logger.Error("delete payment", slog.Any("error", err),
			slog.Int64("invoice_id", invoiceID), slog.String("event_id", eventID))
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type invoiceResponse struct {
	ID                 int64            `json:"id"`
	CompanyID          int64            `json:"company_id"`
	ClientID           int64            `json:"client_id"`
	Number             string           `json:"number"`
	CompanyCurrency    string           `json:"company_currency"`
	ClientCurrency     string           `json:"client_currency"`
	TotalAmount        decimal.Decimal  `json:"total_amount"`
	TotalAmountINR     decimal.Decimal  `json:"total_amount_inr"`
	ClientAmount       decimal.Decimal  `json:"client_amount"`
	AmountPaidByClient decimal.Decimal  `json:"amount_paid_by_client"`
	IssueRate          RateSnapshot     `json:"issue_rate"`
	IssueDate          time.Time        `json:"issue_date"`
	DueDate            time.Time        `json:"due_date"`
	Status             InvoiceStatus    `json:"status"`
	Aggregate          PaymentAggregate `json:"aggregate"`
	TotalDisplay       string           `json:"total_display"`
	PaidDisplay        string           `json:"paid_display"`
}

func toInvoiceResponse(v *InvoiceView) invoiceResponse {
	return invoiceResponse{
		ID:                 v.ID,
		CompanyID:          v.CompanyID,
		ClientID:           v.ClientID,
		Number:             v.Number,
		CompanyCurrency:    v.CompanyCurrency,
		ClientCurrency:     v.ClientCurrency,
		TotalAmount:        v.TotalAmount,
		TotalAmountINR:     v.TotalAmountINR,
		ClientAmount:       v.ClientAmount,
		AmountPaidByClient: v.AmountPaidByClient,
		IssueRate:          v.IssueRate,
		IssueDate:          v.IssueDate,
		DueDate:            v.DueDate,
		Status:             v.Status,
		Aggregate:          v.Aggregate,
		TotalDisplay:       FormatAmount(v.ClientAmount, v.ClientCurrency),
		PaidDisplay:        FormatAmount(v.AmountPaidByClient, v.ClientCurrency),
	}
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	view, err := h.service.GetInvoice(r.Context(), invoiceID, time.Time{})
	if err != nil {
		h.logger.Error("get invoice", slog.Any("error", err), slog.Int64("invoice_id", invoiceID))
		h.respondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, toInvoiceResponse(view))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	companyID, err := parseID(r.URL.Query().Get("company_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company_id query parameter required")
		return
	}

	views, err := h.service.ListInvoices(r.Context(), companyID, time.Time{})
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err), slog.Int64("company_id", companyID))
		h.respondError(w, err)
		return
	}

	out := make([]invoiceResponse, 0, len(views))
	for i := range views {
		out = append(out, toInvoiceResponse(&views[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": out})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	ledger, err := h.service.ListPayments(r.Context(), invoiceID)
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err), slog.Int64("invoice_id", invoiceID))
		h.respondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, ledger)
}

func (h *Handler) companyTotals(w http.ResponseWriter, r *http.Request) {
	companyID, err := parseID(chi.URLParam(r, "companyID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid company id")
		return
	}

	totals, err := h.service.CompanyTotals(r.Context(), companyID)
	if err != nil {
		h.logger.Error("company totals", slog.Any("error", err), slog.Int64("company_id", companyID))
		h.respondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvoiceNotFound), errors.Is(err, ErrEventNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err))
	case errors.Is(err, ErrAmountNotPositive), errors.Is(err, ErrInvalidMethod), errors.Is(err, ErrZeroConversion):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
	case errors.Is(err, fx.ErrUnavailable):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUnavailable, err))
	default:
		httpx.RespondError(w, err)
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
