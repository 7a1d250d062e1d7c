package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/ledgerbook/internal/api/middleware"
	"github.com/dvloznov/ledgerbook/internal/auth"
	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/logger"
	"github.com/dvloznov/ledgerbook/internal/store"
)

// writeDomainError maps typed errors to HTTP responses. Anything unexpected
// is logged in full and reported as a generic 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *domain.ValidationError
		ee *domain.ExtractionError
	)
	switch {
	case errors.As(err, &ve):
		middleware.WriteError(w, http.StatusBadRequest, ve.Error())
	case domain.IsNotFound(err):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStateConflict):
		middleware.WriteError(w, http.StatusConflict, "Statement is being processed or was changed concurrently")
	case errors.Is(err, domain.ErrUnauthorized):
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, domain.ErrForbidden):
		middleware.WriteError(w, http.StatusForbidden, "Forbidden")
	case errors.As(err, &ee):
		middleware.WriteError(w, http.StatusUnprocessableEntity, ee.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// principal returns the caller; routes are registered behind the auth middleware.
func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
	}
	return p, ok
}

// StatementView is the status view returned to pollers.
type StatementView struct {
	ID               string    `json:"id"`
	FileName         string    `json:"fileName"`
	SourceType       string    `json:"sourceType"`
	ProfileID        string    `json:"profileId"`
	Status           string    `json:"status"`
	ProcessingStage  string    `json:"processingStage"`
	RecordCount      int       `json:"recordCount"`
	ProcessedCount   int       `json:"processedCount"`
	ErrorLog         *string   `json:"errorLog"`
	TransactionCount *int      `json:"transactionCount,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func newStatementView(st *domain.Statement) StatementView {
	return StatementView{
		ID:              st.ID,
		FileName:        st.FileName,
		SourceType:      string(st.SourceType),
		ProfileID:       st.ProfileID,
		Status:          string(st.State.Status),
		ProcessingStage: string(st.State.Stage),
		RecordCount:     st.RecordCount,
		ProcessedCount:  st.ProcessedCount,
		ErrorLog:        st.ErrorLog,
		CreatedAt:       st.CreatedAt,
		UpdatedAt:       st.UpdatedAt,
	}
}

func newSummaryView(s store.StatementSummary) StatementView {
	v := newStatementView(&s.Statement)
	n := s.TransactionCount
	v.TransactionCount = &n
	return v
}

// TransactionView is the JSON shape of a ledger row.
type TransactionView struct {
	ID                  string  `json:"id"`
	StatementID         *string `json:"statementId"`
	ProfileID           string  `json:"profileId"`
	Date                string  `json:"date"`
	Description         string  `json:"description"`
	Amount              string  `json:"amount"`
	Type                string  `json:"type"`
	Category            string  `json:"category"`
	Confidence          float64 `json:"confidence"`
	Source              string  `json:"source"`
	NeedsReview         bool    `json:"needsReview"`
	PossibleDuplicateOf string  `json:"possibleDuplicateOf,omitempty"`
}

func newTransactionView(tx domain.Transaction) TransactionView {
	return TransactionView{
		ID:                  tx.ID,
		StatementID:         tx.StatementID,
		ProfileID:           tx.ProfileID,
		Date:                tx.Date.Format(domain.DateLayout),
		Description:         tx.Description,
		Amount:              tx.Amount.StringFixed(2),
		Type:                string(tx.Type),
		Category:            tx.Category,
		Confidence:          tx.Confidence,
		Source:              tx.Metadata.Source,
		NeedsReview:         tx.Metadata.NeedsReview,
		PossibleDuplicateOf: tx.Metadata.PossibleDuplicateOf,
	}
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer")
	}
	return n, nil
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
