package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"decksaves/internal/core"
)

// Memory is an in-memory StorageProvider, safe for concurrent use. Useful
// in tests where hitting the real filesystem or a network bucket would
// slow things down without exercising anything LocalFS or S3 don't
// already cover on their own.
type Memory struct {
	mu   sync.RWMutex
	blobs map[string][]byte
}

var _ core.StorageProvider = (*Memory)(nil)

// NewMemory returns an empty Memory provider.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) PutBlob(ctx context.Context, key string, r io.Reader, size int64, _ map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading blob %s: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("%w: size mismatch for %s: expected %d, got %d", core.ErrIntegrityViolation, key, size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return nil
}

func (m *Memory) GetBlob(ctx context.Context, key string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (m *Memory) DeleteBlob(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *Memory) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return m.PutBlob(ctx, key, bytes.NewReader(data), int64(len(data)), nil)
}

func (m *Memory) GetJSON(ctx context.Context, key string, v any) error {
	var buf bytes.Buffer
	if err := m.GetBlob(ctx, key, &buf); err != nil {
		return err
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		return fmt.Errorf("%w: unmarshaling %s: %v", core.ErrMalformedInput, key, err)
	}
	return nil
}
