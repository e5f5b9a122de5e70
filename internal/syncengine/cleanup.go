package syncengine

import (
	"context"
	"os"

	"decksaves/internal/core"
	"decksaves/internal/version"
)

// cleanupGame applies retention policy to every file touched by this run
// — local files and remote-only files alike — auto-pinning bucket
// representatives first, then pruning unpinned versions beyond the
// policy, deleting the orphaned blobs for any version id it removes.
// Blob deletion failures and NotFound are both non-fatal: a blob whose
// delete fails stays in storage, unreferenced by any manifest; later runs
// do not revisit it.
func (e *Engine) cleanupGame(ctx context.Context, game string, localFiles map[string]string, remoteOnly map[string]struct{}) error {
	relPaths := make(map[string]struct{}, len(localFiles)+len(remoteOnly))
	for relPath := range localFiles {
		relPaths[relPath] = struct{}{}
	}
	for relPath := range remoteOnly {
		relPaths[relPath] = struct{}{}
	}

	var firstErr error
	for relPath := range relPaths {
		if err := e.cleanupFile(ctx, game, relPath); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) cleanupFile(ctx context.Context, game, relPath string) error {
	manifest, err := version.LoadManifest(ctx, e.store, game, relPath)
	if err != nil {
		return err
	}
	if len(manifest.Versions) == 0 {
		return nil
	}

	e.versions.AutoPin(manifest)
	removed := e.versions.Cleanup(manifest, e.policy)

	if err := version.SaveManifest(ctx, e.store, manifest); err != nil {
		return err
	}

	for _, versionID := range removed {
		key := core.VersionBlobKey(game, relPath, versionID)
		if err := e.store.DeleteBlob(ctx, key); err != nil {
			e.logger.Warn("failed to delete orphaned blob", "game", game, "path", relPath, "version", versionID, "error", err)
		}
		if cachePath, err := core.CacheBlobPath(e.localBase, game, relPath, versionID); err == nil {
			if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
				e.logger.Warn("failed to delete cached blob for removed version", "game", game, "path", relPath, "version", versionID, "error", err)
			}
		}
	}
	return nil
}
