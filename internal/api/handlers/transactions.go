package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dvloznov/ledgerbook/internal/api/middleware"
	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/pipeline"
	"github.com/dvloznov/ledgerbook/internal/store"
	"github.com/rs/zerolog"
)

const defaultTransactionLimit = 100

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	store      store.Store
	reconciler *pipeline.Reconciler
	log        zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(s store.Store, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		store:      s,
		reconciler: pipeline.NewReconciler(s, s, s, 0),
		log:        log,
	}
}

// List handles GET /api/transactions.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter := store.TransactionFilter{
		UserID:      p.UserID,
		StatementID: query.Get("statement_id"),
		ProfileID:   query.Get("profile_id"),
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit", defaultTransactionLimit); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeDomainError(w, r, err)
		return
	}
	for name, dst := range map[string]*time.Time{"start_date": &filter.From, "end_date": &filter.To} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			writeDomainError(w, r, domain.NewValidationError(name, "expected YYYY-MM-DD"))
			return
		}
		*dst = t
	}

	txs, err := h.store.ListTransactions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	views := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, newTransactionView(tx))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": views,
		"count":        len(views),
	})
}

// UpdateProfile handles PATCH /api/transactions/{id}/profile.
func (h *TransactionsHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req struct {
		ProfileID string `json:"profileId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProfileID == "" {
		writeDomainError(w, r, domain.NewValidationError("profileId", "is required"))
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetProfile(ctx, p.UserID, req.ProfileID); err != nil {
		if domain.IsNotFound(err) {
			err = domain.NewValidationError("profileId", "profile %s does not belong to the user", req.ProfileID)
		}
		writeDomainError(w, r, err)
		return
	}

	id := r.PathValue("id")
	if err := h.store.UpdateTransactionProfile(ctx, p.UserID, id, req.ProfileID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.reconciler.RecomputeAggregates(ctx, p.UserID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	tx, err := h.store.GetTransaction(ctx, p.UserID, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.log.Info().Str("transaction_id", id).Str("profile_id", req.ProfileID).Msg("Transaction profile corrected")
	middleware.WriteJSON(w, http.StatusOK, newTransactionView(*tx))
}
