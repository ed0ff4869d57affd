package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiksha-erp/shiksha-erp/internal/fees"
	"github.com/shiksha-erp/shiksha-erp/internal/ledger"
	"github.com/shiksha-erp/shiksha-erp/internal/observability"
	"github.com/shiksha-erp/shiksha-erp/internal/promotion"
	"github.com/shiksha-erp/shiksha-erp/internal/receipt"
	"github.com/shiksha-erp/shiksha-erp/internal/roster"
	"github.com/shiksha-erp/shiksha-erp/internal/session"
	"github.com/shiksha-erp/shiksha-erp/jobs"
	"github.com/shiksha-erp/shiksha-erp/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Pool             *pgxpool.Pool
	LedgerHandler    *ledger.Handler
	ReceiptHandler   *receipt.Handler
	SessionHandler   *session.Handler
	FeesHandler      *fees.Handler
	RosterHandler    *roster.Handler
	PromotionHandler *promotion.Handler
	ReportHandler    *report.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Shiksha defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("readiness ping failed", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.SessionHandler != nil {
			params.SessionHandler.MountRoutes(r)
		}
		if params.RosterHandler != nil {
			params.RosterHandler.MountRoutes(r)
		}
		if params.FeesHandler != nil {
			params.FeesHandler.MountRoutes(r)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.ReceiptHandler != nil {
			params.ReceiptHandler.MountRoutes(r)
		}
		if params.PromotionHandler != nil {
			params.PromotionHandler.MountRoutes(r)
		}
	})

	if params.ReportHandler != nil {
		r.Route("/report", params.ReportHandler.MountRoutes)
	}

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
