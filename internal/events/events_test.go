package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_KeysByStatement(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "statement-status"}

	st := &domain.Statement{ID: "s1", UserID: "u1", RecordCount: 2, ProcessedCount: 2}
	require.NoError(t, p.PublishStatementEvent(context.Background(), NewStatementEvent(st, domain.StateDone, "")))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "s1", string(w.msgs[0].Key))
	assert.Equal(t, "statement.COMPLETED", string(w.msgs[0].Headers[0].Value))

	var ev StatementEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "DONE", ev.Stage)
	assert.Equal(t, 2, ev.ProcessedCount)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}, topic: "t"}
	err := p.PublishStatementEvent(context.Background(), StatementEvent{StatementID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestLogPublisher(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewLogPublisher(zerolog.New(buf))
	require.NoError(t, p.PublishStatementEvent(context.Background(), StatementEvent{StatementID: "s9", Status: "FAILED"}))
	assert.Contains(t, buf.String(), `"statement_id":"s9"`)
}
