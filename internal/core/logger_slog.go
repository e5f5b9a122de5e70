package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// decksavesHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<message>\t<key=value ...>
type decksavesHandler struct {
	w     io.Writer
	attrs []slog.Attr
}

func (h *decksavesHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *decksavesHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	if _, err := fmt.Fprintf(h.w, "%s\t%s\t%s", ts, r.Level.String(), r.Message); err != nil {
		return err
	}

	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err := fmt.Fprintln(h.w)
	return err
}

func (h *decksavesHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &decksavesHandler{
		w:     h.w,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *decksavesHandler) WithGroup(string) slog.Handler { return h }

// slogLogger adapts a *slog.Logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// NewStderrLogger returns a Logger that writes structured records to
// stderr only. Used when no log directory is configured.
func NewStderrLogger() Logger {
	return &slogLogger{l: slog.New(&decksavesHandler{w: os.Stderr})}
}

// NewFileLogger returns a Logger that writes structured records to both
// logDir/decksaves.log and stderr, plus the open log file so the caller
// can close it on shutdown.
func NewFileLogger(logDir string) (Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "decksaves.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	return &slogLogger{l: slog.New(&decksavesHandler{w: w})}, f, nil
}
