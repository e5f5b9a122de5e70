package core

import (
	"context"
	"io"
)

// StorageProvider is the abstract blob+JSON object store every sync run
// talks to. Both LocalFS and S3 implementations satisfy it; callers never
// branch on which one is active. All methods are cancellation-aware via
// ctx — every call is a suspension point.
type StorageProvider interface {
	// PutBlob stores bytes at key. Idempotent overwrite.
	PutBlob(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error

	// GetBlob retrieves bytes at key into w. Returns an error wrapping
	// ErrNotFound if the key is absent.
	GetBlob(ctx context.Context, key string, w io.Writer) error

	// DeleteBlob removes key. Returns nil (not an error) if the key was
	// already absent — deletion is non-fatal for cleanup callers.
	DeleteBlob(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// ListByPrefix returns every key starting with prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)

	// PutJSON marshals v and stores it at key.
	PutJSON(ctx context.Context, key string, v any) error

	// GetJSON unmarshals the blob at key into v. Returns an error wrapping
	// ErrNotFound if the key is absent.
	GetJSON(ctx context.Context, key string, v any) error
}

// Logger provides structured, leveled logging for every component. Args
// follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything. Used in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}
