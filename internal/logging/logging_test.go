package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "runner")).Info(context.Background(), "slot done",
		Int("slot", 3),
		Err(errors.New("boom")),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if entry["msg"] != "slot done" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "slot done")
	}
	if entry["component"] != "runner" {
		t.Fatalf("component = %v, want runner", entry["component"])
	}
	if entry["slot"] != float64(3) {
		t.Fatalf("slot = %v, want 3", entry["slot"])
	}
	if entry["error"] != "boom" {
		t.Fatalf("error = %v, want boom", entry["error"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Debug(context.Background(), "dropped")
	log.Info(context.Background(), "dropped too")
	if buf.Len() != 0 {
		t.Fatalf("below-level logs written: %s", buf.String())
	}

	log.Warn(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Fatalf("warn log dropped at warn level")
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	log := NewFromEnv()
	if log == nil {
		t.Fatalf("NewFromEnv() = nil")
	}
	// Must not panic when the env-selected level admits the record.
	log.Debug(context.Background(), "env logger alive")
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRequestID() returned empty id")
	}
	if got := RequestIDFromContext(ctx); got != id {
		t.Fatalf("RequestIDFromContext() = %q, want %q", got, id)
	}

	// A second call must keep the existing id.
	ctx2, id2 := EnsureRequestID(ctx)
	if id2 != id {
		t.Fatalf("EnsureRequestID() replaced id %q with %q", id, id2)
	}
	if ctx2 != ctx {
		t.Fatalf("EnsureRequestID() returned a new context for an existing id")
	}
}

func TestContextLogger(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("LoggerFromContext() on empty context, want nil")
	}

	log := Noop()
	ctx := ContextWithLogger(context.Background(), log)
	if got := LoggerFromContext(ctx); got != log {
		t.Fatalf("LoggerFromContext() = %v, want the stored logger", got)
	}
}
