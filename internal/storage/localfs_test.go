package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"decksaves/internal/core"
)

func TestLocalFS_PutGetBlob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, err := NewLocalFS(t.TempDir(), false)
	if err != nil {
		t.Fatalf("NewLocalFS() error = %v", err)
	}

	data := "hello world"
	if err := l.PutBlob(ctx, "versions/game/save.sav/v1", strings.NewReader(data), int64(len(data)), nil); err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}

	var buf bytes.Buffer
	if err := l.GetBlob(ctx, "versions/game/save.sav/v1", &buf); err != nil {
		t.Fatalf("GetBlob() error = %v", err)
	}
	if buf.String() != data {
		t.Errorf("GetBlob() = %q, want %q", buf.String(), data)
	}
}

func TestLocalFS_GetBlob_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := NewLocalFS(t.TempDir(), false)

	var buf bytes.Buffer
	err := l.GetBlob(ctx, "missing/key", &buf)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetBlob() error = %v, want ErrNotFound", err)
	}
}

func TestLocalFS_PutBlob_SizeMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := NewLocalFS(t.TempDir(), false)

	err := l.PutBlob(ctx, "key", strings.NewReader("short"), 100, nil)
	if !errors.Is(err, core.ErrIntegrityViolation) {
		t.Errorf("PutBlob() error = %v, want ErrIntegrityViolation", err)
	}
}

func TestLocalFS_Exists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := NewLocalFS(t.TempDir(), false)

	ok, err := l.Exists(ctx, "key")
	if err != nil || ok {
		t.Fatalf("Exists() = %v, %v, want false, nil", ok, err)
	}

	l.PutBlob(ctx, "key", strings.NewReader("x"), 1, nil)
	ok, err = l.Exists(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v, want true, nil", ok, err)
	}
}

func TestLocalFS_DeleteBlob_MissingIsNotError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := NewLocalFS(t.TempDir(), false)

	if err := l.DeleteBlob(ctx, "never-existed"); err != nil {
		t.Errorf("DeleteBlob() of missing key error = %v, want nil", err)
	}
}

func TestLocalFS_ListByPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := NewLocalFS(t.TempDir(), false)

	keys := []string{
		"versions/game/save.sav/v1",
		"versions/game/save.sav/v2",
		"versions/game/other.sav/v1",
	}
	for _, k := range keys {
		l.PutBlob(ctx, k, strings.NewReader("x"), 1, nil)
	}

	got, err := l.ListByPrefix(ctx, "versions/game/save.sav")
	if err != nil {
		t.Fatalf("ListByPrefix() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListByPrefix() returned %d keys, want 2: %v", len(got), got)
	}
}

func TestLocalFS_PutGetJSON(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := NewLocalFS(t.TempDir(), false)

	type payload struct {
		Name string `json:"name"`
	}
	want := payload{Name: "farm-save"}
	if err := l.PutJSON(ctx, "manifests/game/save.json", want); err != nil {
		t.Fatalf("PutJSON() error = %v", err)
	}

	var got payload
	if err := l.GetJSON(ctx, "manifests/game/save.json", &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got != want {
		t.Errorf("GetJSON() = %v, want %v", got, want)
	}
}

func TestLocalFS_PutGetBlob_Compressed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, err := NewLocalFS(t.TempDir(), true)
	if err != nil {
		t.Fatalf("NewLocalFS() error = %v", err)
	}

	data := strings.Repeat("hello world ", 100)
	if err := l.PutBlob(ctx, "versions/game/save.sav/v1", strings.NewReader(data), int64(len(data)), nil); err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}

	var buf bytes.Buffer
	if err := l.GetBlob(ctx, "versions/game/save.sav/v1", &buf); err != nil {
		t.Fatalf("GetBlob() error = %v", err)
	}
	if buf.String() != data {
		t.Errorf("GetBlob() = %q, want %q", buf.String(), data)
	}

	onDisk, err := os.ReadFile(filepath.Join(l.root, "versions/game/save.sav/v1"))
	if err != nil {
		t.Fatalf("reading raw blob file: %v", err)
	}
	if len(onDisk) >= len(data) {
		t.Errorf("on-disk size = %d, want smaller than plaintext size %d", len(onDisk), len(data))
	}

	meta, err := l.readMetaSidecar(filepath.Join(l.root, "versions/game/save.sav/v1"))
	if err != nil {
		t.Fatalf("readMetaSidecar() error = %v", err)
	}
	if meta["content-encoding"] != "gzip" {
		t.Errorf("metadata content-encoding = %q, want %q", meta["content-encoding"], "gzip")
	}
}

func TestLocalFS_PutGetJSON_NeverCompressed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := NewLocalFS(t.TempDir(), true)

	type payload struct {
		Name string `json:"name"`
	}
	want := payload{Name: "farm-save"}
	if err := l.PutJSON(ctx, "manifests/game/save.json", want); err != nil {
		t.Fatalf("PutJSON() error = %v", err)
	}

	var got payload
	if err := l.GetJSON(ctx, "manifests/game/save.json", &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got != want {
		t.Errorf("GetJSON() = %v, want %v", got, want)
	}

	// A manifest document is never gzipped, so it stays readable as plain
	// JSON directly off disk.
	raw, err := os.ReadFile(filepath.Join(l.root, "manifests/game/save.json"))
	if err != nil {
		t.Fatalf("reading raw manifest file: %v", err)
	}
	if !strings.Contains(string(raw), "farm-save") {
		t.Errorf("raw manifest file does not contain plaintext JSON: %q", raw)
	}
}

func TestLocalFS_PathEscape_Rejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := NewLocalFS(t.TempDir(), false)

	err := l.PutBlob(ctx, "../../etc/passwd", strings.NewReader("x"), 1, nil)
	if !errors.Is(err, core.ErrMalformedInput) {
		t.Errorf("PutBlob() with escaping key error = %v, want ErrMalformedInput", err)
	}
}
