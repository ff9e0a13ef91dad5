package report

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/settleline/settleline/internal/settlement"
)

// Handler serves rendered invoice statements.
type Handler struct {
	client  *Client
	service *settlement.Service
	logger  *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(client *Client, service *settlement.Service, logger *slog.Logger) *Handler {
	return &Handler{client: client, service: service, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/ping", h.ping)
	r.Get("/invoices/{id}/document", h.invoiceDocument)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

var statementTmpl = template.Must(template.New("statement").Parse(`<html>
<head><title>Invoice {{.Number}}</title></head>
<body>
<h1>Invoice {{.Number}}</h1>
<p>Status: {{.Status}}</p>
<p>Issued {{.IssueDate}}, due {{.DueDate}}</p>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Total ({{.CompanyCurrency}})</th><th>Total (INR)</th><th>Total ({{.ClientCurrency}})</th><th>Paid ({{.ClientCurrency}})</th></tr>
<tr><td>{{.Total}}</td><td>{{.TotalINR}}</td><td>{{.TotalClient}}</td><td>{{.Paid}}</td></tr>
</table>
<h2>Payments</h2>
{{if .Events}}
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Date</th><th>Method</th><th>Amount</th><th>INR</th><th>{{.ClientCurrency}}</th><th>Pending INR After</th></tr>
{{range .Events}}<tr><td>{{.Date}}</td><td>{{.Method}}</td><td>{{.Original}}</td><td>{{.INR}}</td><td>{{.Client}}</td><td>{{.PendingAfter}}</td></tr>
{{end}}</table>
{{else}}<p>No payments recorded.</p>{{end}}
<p><small>Generated at {{.GeneratedAt}}</small></p>
</body>
</html>`))

type statementRow struct {
	Date         string
	Method       string
	Original     string
	INR          string
	Client       string
	PendingAfter string
}

type statementData struct {
	Number          string
	Status          settlement.InvoiceStatus
	IssueDate       string
	DueDate         string
	CompanyCurrency string
	ClientCurrency  string
	Total           string
	TotalINR        string
	TotalClient     string
	Paid            string
	Events          []statementRow
	GeneratedAt     string
}

func (h *Handler) invoiceDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid invoice id", http.StatusBadRequest)
		return
	}

	view, err := h.service.GetInvoice(r.Context(), id, time.Time{})
	if err != nil {
		if errors.Is(err, settlement.ErrInvoiceNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("load invoice for statement", slog.Any("error", err), slog.Int64("invoice_id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	ledger, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.logger.Error("load ledger for statement", slog.Any("error", err), slog.Int64("invoice_id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	data := statementData{
		Number:          view.Number,
		Status:          view.Status,
		IssueDate:       view.IssueDate.Format("2006-01-02"),
		DueDate:         view.DueDate.Format("2006-01-02"),
		CompanyCurrency: view.CompanyCurrency,
		ClientCurrency:  view.ClientCurrency,
		Total:           settlement.FormatAmount(view.TotalAmount, view.CompanyCurrency),
		TotalINR:        settlement.FormatAmount(view.TotalAmountINR, "INR"),
		TotalClient:     settlement.FormatAmount(view.ClientAmount, view.ClientCurrency),
		Paid:            settlement.FormatAmount(view.AmountPaidByClient, view.ClientCurrency),
		GeneratedAt:     time.Now().UTC().Format(time.RFC1123),
	}
	for _, ev := range ledger.Events {
		data.Events = append(data.Events, statementRow{
			Date:         ev.PaidAt.Format("2006-01-02"),
			Method:       string(ev.Method),
			Original:     settlement.FormatAmount(ev.OriginalAmount, view.CompanyCurrency),
			INR:          settlement.FormatAmount(ev.AmountINR, "INR"),
			Client:       settlement.FormatAmount(ev.AmountClient, view.ClientCurrency),
			PendingAfter: settlement.FormatAmount(ev.PendingINRAfter, "INR"),
		})
	}

	var html bytes.Buffer
	if err := statementTmpl.Execute(&html, data); err != nil {
		h.logger.Error("render statement template", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	pdf, err := h.client.RenderHTML(r.Context(), html.String())
	if err != nil {
		h.logger.Error("render statement pdf", slog.Any("error", err), slog.Int64("invoice_id", id))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=invoice-%s.pdf", view.Number))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
