// Package storage implements StorageProvider, the abstract blob-and-JSON
// store that VersionManager and VersionedSync persist through: a local
// filesystem tree or an S3 bucket, selected by Config.UseLocalStorage.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"decksaves/internal/core"
)

// LocalFS is a StorageProvider rooted at a directory on the local
// filesystem. Keys map directly onto relative paths under root; writes go
// through a temp-file-then-rename so a concurrent reader never observes a
// partial blob.
type LocalFS struct {
	root     string
	compress bool

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

var _ core.StorageProvider = (*LocalFS)(nil)

// NewLocalFS creates root (and its parents) with 0700 permissions if it
// doesn't already exist, and returns a LocalFS rooted there. When compress
// is set, every blob is gzipped on write and transparently gunzipped on
// read; callers see plaintext bytes either way.
func NewLocalFS(root string, compress bool) (*LocalFS, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage root %s: %w", root, err)
	}
	return &LocalFS{root: root, compress: compress, keyLocks: map[string]*sync.Mutex{}}, nil
}

func (l *LocalFS) pathFor(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: key escapes storage root: %s", core.ErrMalformedInput, key)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *LocalFS) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		l.keyLocks[key] = m
	}
	return m
}

// PutBlob writes size bytes from r to key, replacing any existing content
// atomically. When the provider was constructed with compress set, the
// content is gzipped on disk and the sidecar records a "content-encoding":
// "gzip" hint so GetBlob knows to gunzip it back.
func (l *LocalFS) PutBlob(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error {
	return l.putBlob(ctx, key, r, size, metadata, l.compress)
}

func (l *LocalFS) putBlob(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string, compress bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest, err := l.pathFor(key)
	if err != nil {
		return err
	}
	lock := l.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".blob-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	var dst io.Writer = tmp
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(tmp)
		dst = gz
	}

	written, err := io.Copy(dst, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing blob %s: %w", key, err)
	}
	if size >= 0 && written != size {
		tmp.Close()
		return fmt.Errorf("%w: size mismatch for %s: expected %d, wrote %d", core.ErrIntegrityViolation, key, size, written)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("compressing blob %s: %w", key, err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming blob into place at %s: %w", key, err)
	}
	success = true

	if compress {
		sidecar := metadata
		if sidecar == nil {
			sidecar = make(map[string]string, 1)
		}
		sidecar["content-encoding"] = "gzip"
		return l.writeMetaSidecar(dest, sidecar)
	}
	if len(metadata) > 0 {
		if err := l.writeMetaSidecar(dest, metadata); err != nil {
			return err
		}
	}
	return nil
}

func (l *LocalFS) writeMetaSidecar(destPath string, metadata map[string]string) error {
	sidecar := destPath + ".meta.json"
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", destPath, err)
	}
	if err := os.WriteFile(sidecar, data, 0o600); err != nil {
		return fmt.Errorf("writing metadata sidecar for %s: %w", destPath, err)
	}
	return nil
}

func (l *LocalFS) readMetaSidecar(destPath string) (map[string]string, error) {
	data, err := os.ReadFile(destPath + ".meta.json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var meta map[string]string
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling metadata sidecar for %s: %v", core.ErrMalformedInput, destPath, err)
	}
	return meta, nil
}

// GetBlob copies the content stored at key to w, transparently gunzipping
// it first if its metadata sidecar carries a "content-encoding": "gzip"
// hint — regardless of the provider's current compress setting, so a blob
// written while compression was enabled still reads back correctly after
// it's turned off.
func (l *LocalFS) GetBlob(ctx context.Context, key string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := l.pathFor(key)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", core.ErrNotFound, key)
		}
		return fmt.Errorf("opening blob %s: %w", key, err)
	}
	defer f.Close()

	meta, err := l.readMetaSidecar(src)
	if err != nil {
		return err
	}

	var reader io.Reader = f
	if meta["content-encoding"] == "gzip" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("decompressing blob %s: %w", key, err)
		}
		defer gz.Close()
		reader = gz
	}

	if _, err := io.Copy(w, reader); err != nil {
		return fmt.Errorf("reading blob %s: %w", key, err)
	}
	return nil
}

// DeleteBlob removes the content at key. Missing keys are not an error.
func (l *LocalFS) DeleteBlob(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest, err := l.pathFor(key)
	if err != nil {
		return err
	}
	lock := l.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob %s: %w", key, err)
	}
	os.Remove(dest + ".meta.json")
	return nil
}

// Exists reports whether key has content.
func (l *LocalFS) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	dest, err := l.pathFor(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(dest)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("statting %s: %w", key, err)
}

// ListByPrefix returns every key under prefix, walking the directory tree
// rooted at the prefix's corresponding path. Sidecar ".meta.json" files are
// excluded from results.
func (l *LocalFS) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, err := l.pathFor(prefix)
	if err != nil {
		return nil, err
	}

	var out []string
	err = filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".meta.json") {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing prefix %s: %w", prefix, err)
	}
	return out, nil
}

// PutJSON marshals v and writes it as a blob at key. Manifests and config
// documents are small, frequently re-read control-plane data, not the
// version blobs compression targets, so this never gzips regardless of
// the provider's compress setting.
func (l *LocalFS) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return l.putBlob(ctx, key, strings.NewReader(string(data)), int64(len(data)), nil, false)
}

// GetJSON reads the blob at key and unmarshals it into v.
func (l *LocalFS) GetJSON(ctx context.Context, key string, v any) error {
	var buf strings.Builder
	if err := l.GetBlob(ctx, key, &buf); err != nil {
		return err
	}
	data := []byte(buf.String())
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: unmarshaling %s: %v", core.ErrMalformedInput, key, err)
	}
	return nil
}
