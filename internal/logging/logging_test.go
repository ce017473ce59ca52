package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Config{Format: "json", Level: "warn"})
	l.Info("dropped")
	l.Warn("kept", "catalog", "gaia")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("want exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry["catalog"] != "gaia" {
		t.Errorf("entry = %v", entry)
	}
}

func TestCorrelationID(t *testing.T) {
	ctx := context.Background()
	if CorrelationID(ctx) != "" {
		t.Error("empty context should have no correlation ID")
	}
	id := GenerateCorrelationID()
	if len(id) != 16 {
		t.Errorf("correlation ID %q should be 16 hex chars", id)
	}
	if got := CorrelationID(WithCorrelationID(ctx, id)); got != id {
		t.Errorf("CorrelationID = %q, want %q", got, id)
	}
	if GenerateCorrelationID() == id {
		t.Error("two generated IDs are equal")
	}
}
