package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNewWithOptions_JSONAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithOptions(Options{Level: "warn", Format: "json", Output: buf})

	log.Info().Msg("hidden")
	log.Warn().Str("statement_id", "s1").Msg("visible")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("Expected info line to be filtered, got: %s", output)
	}
	if !strings.Contains(output, `"statement_id":"s1"`) {
		t.Errorf("Expected JSON field in output, got: %s", output)
	}
}

func TestNewWithOptions_BadLevelFallsBackToInfo(t *testing.T) {
	log := NewWithOptions(Options{Level: "loud", Output: &bytes.Buffer{}})
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", log.GetLevel())
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	output := buf.String()
	if output == "" {
		t.Error("Expected log output, got empty string")
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", output)
	}
}

func TestWithContext(t *testing.T) {
	log := New()
	ctx := context.Background()

	ctxWithLogger := WithContext(ctx, log)

	if ctxWithLogger.Value(LoggerKey) == nil {
		t.Error("Expected logger in context, got nil")
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	retrievedLog := FromContext(ctx)
	retrievedLog.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	// Should return a default logger when none is in context
	log := FromContext(context.Background())

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestForStatement(t *testing.T) {
	buf := &bytes.Buffer{}
	log := ForStatement(NewWithWriter(buf), "s1", "u1")
	log.Info().Msg("claimed")

	output := buf.String()
	if !strings.Contains(output, `"statement_id":"s1"`) || !strings.Contains(output, `"user_id":"u1"`) {
		t.Errorf("Expected statement fields, got: %s", output)
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	fields := map[string]interface{}{
		"user_id": "123",
		"action":  "test",
	}

	logWithFields := WithFields(log, fields)
	logWithFields.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "user_id") || !strings.Contains(output, "123") {
		t.Errorf("Expected output to contain user_id field, got: %s", output)
	}
	if !strings.Contains(output, "action") || !strings.Contains(output, "test") {
		t.Errorf("Expected output to contain action field, got: %s", output)
	}
}
