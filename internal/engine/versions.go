package engine

import (
	"context"
	"fmt"

	"decksaves/internal/core"
	"decksaves/internal/version"
)

// ListVersionHistory returns every recorded version for one file, newest
// first.
func (f *Facade) ListVersionHistory(ctx context.Context, game, relPath string) ([]core.FileVersion, error) {
	manifest, err := version.LoadManifest(ctx, f.store, game, relPath)
	if err != nil {
		return nil, err
	}
	out := make([]core.FileVersion, len(manifest.Versions))
	for i, v := range manifest.Versions {
		out[len(manifest.Versions)-1-i] = v
	}
	return out, nil
}

// PinVersion marks versionID as pinned so retention cleanup never prunes
// it.
func (f *Facade) PinVersion(ctx context.Context, game, relPath, versionID string) error {
	return f.setPinned(ctx, game, relPath, versionID, true)
}

// UnpinVersion clears a version's pin.
func (f *Facade) UnpinVersion(ctx context.Context, game, relPath, versionID string) error {
	return f.setPinned(ctx, game, relPath, versionID, false)
}

func (f *Facade) setPinned(ctx context.Context, game, relPath, versionID string, pinned bool) error {
	manifest, err := version.LoadManifest(ctx, f.store, game, relPath)
	if err != nil {
		return err
	}
	if pinned {
		if err := f.versions.Pin(manifest, versionID); err != nil {
			return err
		}
	} else if err := f.versions.Unpin(manifest, versionID); err != nil {
		return err
	}
	return version.SaveManifest(ctx, f.store, manifest)
}

// CleanupOldVersions applies retention policy to one file immediately,
// outside of a sync run, returning the version ids removed.
func (f *Facade) CleanupOldVersions(ctx context.Context, game, relPath string, policy version.RetentionPolicy) ([]string, error) {
	manifest, err := version.LoadManifest(ctx, f.store, game, relPath)
	if err != nil {
		return nil, err
	}
	f.versions.AutoPin(manifest)
	removed := f.versions.Cleanup(manifest, policy)

	if err := version.SaveManifest(ctx, f.store, manifest); err != nil {
		return nil, err
	}
	for _, versionID := range removed {
		key := core.VersionBlobKey(game, relPath, versionID)
		if err := f.store.DeleteBlob(ctx, key); err != nil {
			f.logger.Warn("failed to delete orphaned blob", "game", game, "path", relPath, "version", versionID, "error", err)
		}
	}
	return removed, nil
}

// RestoreVersion restores relPath within game's first configured save
// path to versionID. Returns the path of the pre-restore backup, or ""
// if there was nothing to back up.
func (f *Facade) RestoreVersion(ctx context.Context, game, relPath, versionID string) (string, error) {
	gc, err := f.gameConfig(game)
	if err != nil {
		return "", err
	}
	if len(gc.SavePaths) == 0 {
		return "", fmt.Errorf("%w: %s has no configured save paths", core.ErrConfigInvalid, game)
	}

	var opID int64
	if f.history != nil {
		opID, err = f.history.Start(ctx, game, "restore", relPath, f.clock.Now())
		if err != nil {
			f.logger.Warn("failed to record restore start", "game", game, "error", err)
		}
	}

	eng := f.engineFor(game)
	backupPath, restoreErr := eng.RestoreVersion(ctx, game, relPath, gc.SavePaths[0], versionID, nil)

	if f.history != nil && opID != 0 {
		status := "completed"
		if restoreErr != nil {
			status = "failed"
		}
		if err := f.history.Finish(ctx, opID, status, f.clock.Now()); err != nil {
			f.logger.Warn("failed to record restore finish", "game", game, "error", err)
		}
	}
	return backupPath, restoreErr
}
