package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/settleline/settleline/internal/invoicing"
	"github.com/settleline/settleline/internal/observability"
	"github.com/settleline/settleline/internal/settlement"
	"github.com/settleline/settleline/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SettlementHandler *settlement.Handler
	InvoicingHandler  *invoicing.Handler
	ReportHandler     *report.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Settleline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		params.InvoicingHandler.MountRoutes(api)
		params.SettlementHandler.MountRoutes(api)
		if params.ReportHandler != nil {
			params.ReportHandler.MountRoutes(api)
		}
	})

	return r
}
