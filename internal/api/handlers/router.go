package handlers

import (
	"net/http"

	"github.com/dvloznov/ledgerbook/internal/api/middleware"
	"github.com/dvloznov/ledgerbook/internal/auth"
	"github.com/dvloznov/ledgerbook/internal/jobs"
	"github.com/dvloznov/ledgerbook/internal/reporting"
	"github.com/rs/zerolog"
)

// RouterConfig carries everything the HTTP API needs.
type RouterConfig struct {
	Statements     StatementsConfig
	Reporter       reporting.Reporter
	JobStore       jobs.JobStore
	Sessions       *auth.Sessions
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter builds the HTTP handler with all routes and middleware applied.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	statements := NewStatementsHandler(cfg.Statements)
	transactions := NewTransactionsHandler(cfg.Statements.Store, log)
	profiles := NewProfilesHandler(cfg.Statements.Store)
	reports := NewReportsHandler(cfg.Reporter)

	authed := middleware.Auth(cfg.Sessions)
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, authed, middleware.RequireRole(auth.RoleAdmin))
	}
	user := func(h http.HandlerFunc) http.Handler {
		return authed(h)
	}

	mux := http.NewServeMux()

	// Statements endpoints
	mux.Handle("POST /api/statements", user(statements.Upload))
	mux.Handle("GET /api/statements", user(statements.List))
	mux.Handle("GET /api/statements/{id}", user(statements.Get))
	mux.Handle("DELETE /api/statements/{id}", user(statements.Delete))
	mux.Handle("POST /api/statements/{id}/process", user(statements.Process))
	mux.Handle("POST /api/statements/{id}/retry", user(statements.Retry))
	mux.Handle("GET /api/statements/{id}/file", user(statements.File))

	// Transactions endpoints
	mux.Handle("GET /api/transactions", user(transactions.List))
	mux.Handle("PATCH /api/transactions/{id}/profile", user(transactions.UpdateProfile))

	mux.Handle("GET /api/profiles", user(profiles.List))
	mux.Handle("GET /api/reports/monthly", user(reports.Monthly))

	// Admin endpoints
	mux.Handle("POST /api/admin/statements/retry", admin(statements.RetryAll))
	if cfg.JobStore != nil {
		jobsHandler := NewJobsHandler(cfg.JobStore, log)
		mux.Handle("GET /api/admin/jobs", admin(jobsHandler.ListJobs))
		mux.Handle("GET /api/admin/jobs/{id}", admin(jobsHandler.GetJob))
	}

	mux.HandleFunc("GET /health", Health)

	return middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS(cfg.AllowedOrigins),
	)
}
