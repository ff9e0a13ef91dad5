package invoicing

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
	"github.com/settleline/settleline/internal/platform/httpx"
	"github.com/settleline/settleline/internal/settlement"
)

// Handler manages invoice issuance endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	valid   *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, valid: validator.New()}
}

// MountRoutes registers invoicing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.createInvoice)
	r.Post("/invoices/{id}/send", h.sendInvoice)
}

type createInvoiceRequest struct {
	CompanyID       int64           `json:"company_id" validate:"required,gt=0"`
	ClientID        int64           `json:"client_id" validate:"required,gt=0"`
	Number          string          `json:"number" validate:"required"`
	CompanyCurrency string          `json:"company_currency" validate:"required,len=3,uppercase"`
	ClientCurrency  string          `json:"client_currency" validate:"required,len=3,uppercase"`
	TotalAmount     decimal.Decimal `json:"total_amount" validate:"required"`
	IssueDate       string          `json:"issue_date" validate:"required,datetime=2006-01-02"`
	DueDate         string          `json:"due_date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.valid.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	issueDate, _ := time.Parse("2006-01-02", req.IssueDate)
	dueDate, _ := time.Parse("2006-01-02", req.DueDate)

	inv, err := h.service.CreateInvoice(r.Context(), CreateInvoiceInput{
		CompanyID:       req.CompanyID,
		ClientID:        req.ClientID,
		Number:          req.Number,
		CompanyCurrency: req.CompanyCurrency,
		ClientCurrency:  req.ClientCurrency,
		TotalAmount:     req.TotalAmount,
		IssueDate:       issueDate,
		DueDate:         dueDate,
	})
	if err != nil {
		h.logger.Error("create invoice", slog.Any("error", err))
		h.respondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{
		"invoice": inv,
		"status":  settlement.StatusDraft,
	})
}

func (h *Handler) sendInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	if err := h.service.SendInvoice(r.Context(), id); err != nil {
		h.logger.Error("send invoice", slog.Any("error", err), slog.Int64("invoice_id", id))
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settlement.ErrInvoiceNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err))
	case errors.Is(err, ErrDuplicateNumber), errors.Is(err, ErrNotDraft):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrDuplicate, err))
	case errors.Is(err, fx.ErrUnavailable):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUnavailable, err))
	case errors.Is(err, ErrInvalidInput), errors.Is(err, settlement.ErrZeroConversion):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
	default:
		httpx.RespondError(w, err)
	}
}
