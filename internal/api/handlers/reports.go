package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/ledgerbook/internal/api/middleware"
	"github.com/dvloznov/ledgerbook/internal/reporting"
)

// ReportsHandler serves aggregate reports.
type ReportsHandler struct {
	reporter reporting.Reporter
}

func NewReportsHandler(reporter reporting.Reporter) *ReportsHandler {
	return &ReportsHandler{reporter: reporter}
}

// Monthly handles GET /api/reports/monthly?month=YYYY-MM. The month defaults to the current one.
func (h *ReportsHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("month")
	if raw == "" {
		raw = time.Now().UTC().Format("2006-01")
	}
	month, err := reporting.ParseMonth(raw)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	rep, err := reporting.BuildMonthlyReport(r.Context(), h.reporter, p.UserID, month)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rep)
}
