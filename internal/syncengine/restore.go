package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"decksaves/internal/core"
	"decksaves/internal/version"
)

// RestoreVersion overwrites the live file at localRoot/relPath with the
// content of versionID: it downloads the target version and verifies its
// hash first, and only once that succeeds does it copy whatever currently
// sits at livePath into a backup directory under the engine's local base,
// so a bad restore can be undone by hand. An integrity violation leaves
// both the live file and the backup directory untouched — there is
// nothing worth preserving from a download that didn't verify. The
// backup happens even if the live file doesn't exist yet — in that case
// there's simply nothing to copy.
//
// On any failure after the backup is taken, the live file is left
// untouched; the backup is never the thing that gets cleaned up, since
// it's the caller's safety net.
func (e *Engine) RestoreVersion(ctx context.Context, game, relPath, localRoot, versionID string, sink core.ProgressSink) (string, error) {
	if sink == nil {
		sink = core.NopSink
	}

	manifest, err := version.LoadManifest(ctx, e.store, game, relPath)
	if err != nil {
		return "", fmt.Errorf("loading manifest for %s: %w", relPath, err)
	}
	target, err := version.Find(manifest, versionID)
	if err != nil {
		return "", err
	}

	osRel, err := core.UnescapeRelativeFilePath(relPath)
	if err != nil {
		return "", err
	}
	localRoot, err = core.ExpandHome(localRoot)
	if err != nil {
		return "", err
	}
	livePath := filepath.Join(localRoot, filepath.FromSlash(osRel))
	liveDir := filepath.Dir(livePath)

	if err := os.MkdirAll(liveDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(liveDir, ".restore-*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	dest := io.MultiWriter(tmp, hasher)
	cachePath, cacheErr := core.CacheBlobPath(e.localBase, game, relPath, target.VersionID)
	if cf, openErr := os.Open(cachePath); cacheErr == nil && openErr == nil {
		// Already gap-filled by a prior sync — read it locally instead of
		// round-tripping to the remote store.
		_, err = io.Copy(dest, cf)
		cf.Close()
	} else {
		blobKey := core.VersionBlobKey(game, relPath, target.VersionID)
		err = e.store.GetBlob(ctx, blobKey, dest)
	}
	if err == nil {
		err = tmp.Sync()
	}
	tmp.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("fetching version %s: %w", versionID, err)
	}

	if hex.EncodeToString(hasher.Sum(nil)) != target.Hash {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: restored content for %s did not match recorded hash", core.ErrIntegrityViolation, relPath)
	}

	backupPath, err := e.backupLiveFile(livePath, game, relPath)
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("backing up %s before restore: %w", relPath, err)
	}

	if err := os.Rename(tmpPath, livePath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing restored file (backup preserved at %s): %w", backupPath, err)
	}

	sink(core.ProgressEvent{Kind: "completed", Game: game, File: relPath, Message: fmt.Sprintf("restored version %s (backup at %s)", versionID, backupPath)})
	e.logger.Info("restored version", "game", game, "path", relPath, "version", versionID, "backup", backupPath)
	return backupPath, nil
}

// backupLiveFile copies whatever currently exists at livePath into
// <local-base>/restore-backup/<game>/<relPath>/<timestamp>, returning the
// backup's path. Rooted under the engine's own local base — never under
// a save path — so enumerateLocal never walks back over a backup and
// mistakes it for a new save file on the next sync. Returns "" with no
// error if livePath doesn't exist yet — there's nothing to preserve.
func (e *Engine) backupLiveFile(livePath, game, relPath string) (string, error) {
	src, err := os.Open(livePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer src.Close()

	stamp := e.clock.Now().UTC().Format("20060102T150405.000000000Z")
	backupDir := filepath.Join(e.localBase, "restore-backup", game, filepath.FromSlash(relPath))
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", err
	}
	backupPath := filepath.Join(backupDir, stamp)

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(backupPath)
		return "", err
	}
	if err := dst.Sync(); err != nil {
		os.Remove(backupPath)
		return "", err
	}
	return backupPath, nil
}
