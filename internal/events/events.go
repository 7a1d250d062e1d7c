package events

import (
	"context"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/rs/zerolog"
)

// StatementEvent announces that a statement reached a terminal state.
type StatementEvent struct {
	StatementID    string    `json:"statement_id"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	Stage          string    `json:"stage"`
	RecordCount    int       `json:"record_count"`
	ProcessedCount int       `json:"processed_count"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewStatementEvent snapshots a statement into an event.
func NewStatementEvent(st *domain.Statement, state domain.State, errMsg string) StatementEvent {
	return StatementEvent{
		StatementID:    st.ID,
		UserID:         st.UserID,
		Status:         string(state.Status),
		Stage:          string(state.Stage),
		RecordCount:    st.RecordCount,
		ProcessedCount: st.ProcessedCount,
		Error:          errMsg,
		OccurredAt:     time.Now().UTC(),
	}
}

// Publisher delivers statement events.
type Publisher interface {
	PublishStatementEvent(ctx context.Context, ev StatementEvent) error
	Close() error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) PublishStatementEvent(ctx context.Context, ev StatementEvent) error {
	p.log.Info().
		Str("statement_id", ev.StatementID).
		Str("user_id", ev.UserID).
		Str("status", ev.Status).
		Str("stage", ev.Stage).
		Int("processed_count", ev.ProcessedCount).
		Int("record_count", ev.RecordCount).
		Msg("Statement event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

var _ Publisher = (*LogPublisher)(nil)
