package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dvloznov/ledgerbook/internal/api/middleware"
	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/jobs"
	"github.com/dvloznov/ledgerbook/internal/logger"
	"github.com/dvloznov/ledgerbook/internal/objectstore"
	"github.com/dvloznov/ledgerbook/internal/pipeline"
	"github.com/dvloznov/ledgerbook/internal/store"
	"github.com/rs/zerolog"
)

// StatementsHandler handles statement upload, status and processing endpoints.
type StatementsHandler struct {
	store          store.Store
	intake         *pipeline.Intake
	processor      *pipeline.Processor
	reconciler     *pipeline.Reconciler
	publisher      jobs.Publisher
	objects        objectstore.Store
	signedURLTTL   time.Duration
	maxUploadBytes int64
	log            zerolog.Logger
}

// StatementsConfig wires a StatementsHandler.
type StatementsConfig struct {
	Store          store.Store
	Objects        objectstore.Store
	Processor      *pipeline.Processor
	Publisher      jobs.Publisher
	SignedURLTTL   time.Duration
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

// NewStatementsHandler creates a new statements handler.
func NewStatementsHandler(cfg StatementsConfig) *StatementsHandler {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	return &StatementsHandler{
		store:          cfg.Store,
		intake:         pipeline.NewIntake(cfg.Store, cfg.Store, cfg.Objects, cfg.Logger),
		processor:      cfg.Processor,
		reconciler:     pipeline.NewReconciler(cfg.Store, cfg.Store, cfg.Store, 0),
		publisher:      cfg.Publisher,
		objects:        cfg.Objects,
		signedURLTTL:   cfg.SignedURLTTL,
		maxUploadBytes: cfg.MaxUploadBytes,
		log:            cfg.Logger,
	}
}

// Upload handles POST /api/statements (multipart: file, mapping, profile_id).
func (h *StatementsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File exceeds the upload limit")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Expected a multipart form with a file field")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDomainError(w, r, domain.NewValidationError("file", "a file is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Could not read uploaded file")
		return
	}

	mapping, err := domain.ParseColumnMapping([]byte(r.FormValue("mapping")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	profileID, err := h.resolveProfile(ctx, p.UserID, r.FormValue("profile_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	res, err := h.intake.Upload(ctx, pipeline.UploadRequest{
		UserID:    p.UserID,
		ProfileID: profileID,
		FileName:  header.Filename,
		Data:      data,
		Mapping:   mapping,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.enqueue(ctx, res.UploadID, p.UserID)
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// resolveProfile prefers an explicit profile and falls back to the user's current one.
func (h *StatementsHandler) resolveProfile(ctx context.Context, userID, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	u, err := h.store.GetUser(ctx, userID)
	if err != nil {
		if domain.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if u.CurrentProfileID == nil {
		return "", nil
	}
	return *u.CurrentProfileID, nil
}

// enqueue hands the statement to the worker pool. A failure is only logged:
// the statement stays PENDING and the worker sweep picks it up.
func (h *StatementsHandler) enqueue(ctx context.Context, statementID, userID string) {
	if h.publisher == nil {
		return
	}
	job := &jobs.ProcessStatementJob{StatementID: statementID, UserID: userID}
	if err := h.publisher.PublishProcessStatement(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("statement_id", statementID).Msg("Failed to enqueue statement; leaving it for the sweep")
		return
	}
	h.log.Debug().Str("job_id", job.JobID).Str("statement_id", statementID).Msg("Statement enqueued")
}

// Get handles GET /api/statements/{id}.
func (h *StatementsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	st, err := h.store.GetStatementForUser(r.Context(), p.UserID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newStatementView(st))
}

// List handles GET /api/statements.
func (h *StatementsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	summaries, err := h.store.ListStatements(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	views := make([]StatementView, 0, len(summaries))
	for _, s := range summaries {
		views = append(views, newSummaryView(s))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statements": views,
		"count":      len(views),
	})
}

// Process handles POST /api/statements/{id}/process. With sync=true the
// pipeline runs in the request and extraction failures come back as 422.
func (h *StatementsHandler) Process(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	st, err := h.store.GetStatementForUser(ctx, p.UserID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if st.State != domain.StateQueued {
		writeDomainError(w, r, domain.ErrStateConflict)
		return
	}

	if r.URL.Query().Get("sync") != "true" {
		h.enqueue(ctx, st.ID, st.UserID)
		middleware.WriteJSON(w, http.StatusAccepted, newStatementView(st))
		return
	}

	if err := h.processor.Process(ctx, st.ID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	done, err := h.store.GetStatement(ctx, st.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newStatementView(done))
}

// Retry handles POST /api/statements/{id}/retry.
func (h *StatementsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	st, err := h.store.GetStatementForUser(ctx, p.UserID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.processor.Tracker().Requeue(ctx, st); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.enqueue(ctx, st.ID, st.UserID)

	st.State = domain.StateQueued
	st.ErrorLog = nil
	middleware.WriteJSON(w, http.StatusAccepted, newStatementView(st))
}

// File handles GET /api/statements/{id}/file.
func (h *StatementsHandler) File(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	st, err := h.store.GetStatementForUser(ctx, p.UserID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	url, err := h.objects.SignedURL(ctx, st.StoragePath, h.signedURLTTL)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"url":       url,
		"expiresIn": int(h.signedURLTTL.Seconds()),
	})
}

// Delete handles DELETE /api/statements/{id}. The statement's transactions
// go with it and the user's budgets and debts are recomputed.
func (h *StatementsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	st, err := h.store.GetStatementForUser(ctx, p.UserID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if st.State.Status == domain.StatusProcessing {
		writeDomainError(w, r, domain.ErrStateConflict)
		return
	}
	if err := h.store.DeleteStatement(ctx, p.UserID, st.ID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.objects.Delete(ctx, st.StoragePath); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("path", st.StoragePath).Msg("Failed to delete statement file")
	}
	if err := h.reconciler.RecomputeAggregates(ctx, p.UserID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryAll handles POST /api/admin/statements/retry.
func (h *StatementsHandler) RetryAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := h.processor.Tracker().RetryFailed(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	for _, id := range ids {
		h.enqueue(ctx, id, "")
	}
	h.log.Info().Int("reset", len(ids)).Msg("Failed statements reset")
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"reset": len(ids)})
}
