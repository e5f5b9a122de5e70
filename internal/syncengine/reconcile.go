package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"decksaves/internal/core"
	"decksaves/internal/version"
)

// reconcileOne hashes the local file at absPath and, if its content
// differs from the manifest's latest version, creates a new version,
// uploads the blob, and commits the updated manifest. A hash-equal file
// is a no-op. The manifest is re-fetched and the write re-attempted once
// if another writer advanced it between our read and our commit; a
// second collision aborts this file with core.ErrConcurrentUpdate rather
// than looping indefinitely.
func (e *Engine) reconcileOne(ctx context.Context, game, relPath, absPath string, sink core.ProgressSink) core.FileResult {
	hash, size, err := hashFile(absPath)
	if err != nil {
		return core.FileResult{RelativeFilePath: relPath, Action: "error", Err: fmt.Errorf("hashing %s: %w", relPath, err)}
	}

	for attempt := 0; attempt < 2; attempt++ {
		manifest, err := version.LoadManifest(ctx, e.store, game, relPath)
		if err != nil {
			return core.FileResult{RelativeFilePath: relPath, Action: "error", Err: err}
		}
		startedUpdatedAt := manifest.UpdatedAt

		v, created := e.versions.CreateVersion(manifest, hash, size, "")
		if !created {
			return core.FileResult{RelativeFilePath: relPath, Action: "skipped"}
		}
		if e.compress {
			// CreateVersion appended v to manifest.Versions by value; tag the
			// stored entry (not just our local copy) so it persists.
			for i := range manifest.Versions {
				if manifest.Versions[i].VersionID == v.VersionID {
					manifest.Versions[i].StorageMetadata = map[string]string{"content-encoding": "gzip"}
					v = manifest.Versions[i]
					break
				}
			}
		}

		f, err := os.Open(absPath)
		if err != nil {
			return core.FileResult{RelativeFilePath: relPath, Action: "error", Err: fmt.Errorf("opening %s: %w", relPath, err)}
		}
		blobKey := core.VersionBlobKey(game, relPath, v.VersionID)
		uploadErr := e.store.PutBlob(ctx, blobKey, f, size, nil)
		f.Close()
		if uploadErr != nil {
			return core.FileResult{RelativeFilePath: relPath, Action: "error", Err: fmt.Errorf("uploading %s: %w", relPath, uploadErr)}
		}

		conflict, err := e.commitManifest(ctx, game, relPath, manifest, startedUpdatedAt)
		if err != nil {
			return core.FileResult{RelativeFilePath: relPath, Action: "error", Err: err}
		}
		if !conflict {
			sink(core.ProgressEvent{Kind: "progress", Game: game, File: relPath, BytesTransferred: size, TotalBytes: size, Percentage: 100})
			return core.FileResult{RelativeFilePath: relPath, Action: "uploaded"}
		}
		// Someone else committed a version between our read and our write.
		// The blob we just uploaded is simply an orphan under a version id
		// nobody's manifest references; retry from a fresh manifest read.
	}

	return core.FileResult{RelativeFilePath: relPath, Action: "conflict", Err: fmt.Errorf("%w: %s", core.ErrConcurrentUpdate, relPath)}
}

// commitManifest re-fetches the manifest immediately before writing and
// compares its UpdatedAt against the value observed when the caller
// started building manifest; a mismatch means someone else committed in
// between, so the write is abandoned and reported as a conflict instead
// of silently clobbering their version.
func (e *Engine) commitManifest(ctx context.Context, game, relPath string, manifest *core.GameVersionManifest, startedUpdatedAt time.Time) (conflict bool, err error) {
	fresh, err := version.LoadManifest(ctx, e.store, game, relPath)
	if err != nil {
		return false, err
	}
	if !fresh.UpdatedAt.Equal(startedUpdatedAt) {
		return true, nil
	}
	return false, version.SaveManifest(ctx, e.store, manifest)
}

// fillCache downloads every version of relPath referenced by its manifest
// whose blob isn't already present in the local restore-readiness cache
// (<local-base>/cache/<game>/<relPath>/<versionId>), independent of
// whether a live file exists at relPath. It never touches the live save
// path — only RestoreVersion writes there. Each downloaded blob is
// re-hashed against the manifest entry before being made visible via
// rename; a mismatch aborts the whole file with core.ErrIntegrityViolation.
func (e *Engine) fillCache(ctx context.Context, game, relPath string, sink core.ProgressSink) core.FileResult {
	manifest, err := version.LoadManifest(ctx, e.store, game, relPath)
	if err != nil {
		return core.FileResult{RelativeFilePath: relPath, Action: "error", Err: err}
	}

	downloaded := 0
	for _, v := range manifest.Versions {
		cachePath, err := core.CacheBlobPath(e.localBase, game, relPath, v.VersionID)
		if err != nil {
			return core.FileResult{RelativeFilePath: relPath, Action: "error", Err: err}
		}
		if _, err := os.Stat(cachePath); err == nil {
			continue
		}

		if err := e.downloadToCache(ctx, game, relPath, v, cachePath); err != nil {
			return core.FileResult{RelativeFilePath: relPath, Action: "error", Err: err}
		}
		downloaded++
		sink(core.ProgressEvent{Kind: "progress", Game: game, File: relPath, BytesTransferred: int64(v.SizeBytes), TotalBytes: int64(v.SizeBytes), Percentage: 100})
	}

	if downloaded == 0 {
		return core.FileResult{RelativeFilePath: relPath, Action: "skipped"}
	}
	return core.FileResult{RelativeFilePath: relPath, Action: "downloaded"}
}

// downloadToCache fetches one version's blob into cachePath via
// temp+rename, verifying its hash against v before the cached copy is
// made visible.
func (e *Engine) downloadToCache(ctx context.Context, game, relPath string, v core.FileVersion, cachePath string) error {
	cacheDir := filepath.Dir(cachePath)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(cacheDir, ".cache-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	blobKey := core.VersionBlobKey(game, relPath, v.VersionID)
	err = e.store.GetBlob(ctx, blobKey, io.MultiWriter(tmp, hasher))
	if err == nil {
		err = tmp.Sync()
	}
	tmp.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("caching %s version %s: %w", relPath, v.VersionID, err)
	}

	if hex.EncodeToString(hasher.Sum(nil)) != v.Hash {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %s version %s", core.ErrIntegrityViolation, relPath, v.VersionID)
	}

	if err := os.Rename(tmpPath, cachePath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func hashFile(absPath string) (hash string, size int64, err error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	written, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), written, nil
}
