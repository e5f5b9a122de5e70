package core

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDecksavesHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			level:   slog.LevelInfo,
			message: "sync completed",
			want:    "2024-06-15T14:30:45Z\tINFO\tsync completed\n",
		},
		{
			name:    "with record attrs",
			level:   slog.LevelWarn,
			message: "storage transient error",
			attrs:   []slog.Attr{slog.String("game", "stardew-valley"), slog.Int("attempt", 2)},
			want:    "2024-06-15T14:30:45Z\tWARN\tstorage transient error\tgame=stardew-valley\tattempt=2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &decksavesHandler{w: &buf}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestDecksavesHandler_WithAttrs_DoesNotMutateOriginal(t *testing.T) {
	h := &decksavesHandler{attrs: []slog.Attr{slog.String("a", "1")}}
	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*decksavesHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := NewFileLogger(dir)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer f.Close()

	if logger == nil {
		t.Fatal("NewFileLogger() returned nil logger")
	}
	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(filepath.Join(dir, "decksaves.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte("hello")) {
		t.Errorf("log file contents = %q, want it to contain %q", data, "hello")
	}
}

func TestNewStderrLogger(t *testing.T) {
	logger := NewStderrLogger()
	if logger == nil {
		t.Fatal("NewStderrLogger() returned nil")
	}
	// Exercise every level to confirm it never panics without a real file.
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")
}
