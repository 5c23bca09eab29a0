package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		enable   slog.Level
		disabled *slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug, nil},
		{"warn level", "warn", slog.LevelWarn, levelPtr(slog.LevelInfo)},
		{"warning alias", "WARNING", slog.LevelWarn, levelPtr(slog.LevelInfo)},
		{"error level", "error", slog.LevelError, levelPtr(slog.LevelWarn)},
		{"default info", "", slog.LevelInfo, levelPtr(slog.LevelDebug)},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
			if tt.disabled != nil && logger.Enabled(ctx, *tt.disabled) {
				t.Fatalf("expected level %s to be disabled", *tt.disabled)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	logger.Info("test message", "key", "value")

	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Fatal("expected info level to be enabled")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("expected debug level to be disabled by default")
	}
}

func TestWithConversationAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).WithConversation("conv-1", "org-9")
	logger.Info("turn handled")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["conversation_id"] != "conv-1" {
		t.Fatalf("expected conversation_id, got %v", entry["conversation_id"])
	}
	if entry["org_id"] != "org-9" {
		t.Fatalf("expected org_id, got %v", entry["org_id"])
	}
}

func TestWithConversationNilReceiver(t *testing.T) {
	var logger *Logger
	if got := logger.WithConversation("conv-1", ""); got == nil {
		t.Fatal("expected a usable logger from nil receiver")
	}
}

func levelPtr(l slog.Level) *slog.Level { return &l }
