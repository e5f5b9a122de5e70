// Package syncengine implements VersionedSync: the per-game algorithm
// that reconciles a local save directory against its remote version
// history, uploading changed files, filling the local restore-readiness
// cache from remote versions, and applying retention policy afterward.
package syncengine

import (
	"context"
	"fmt"

	"decksaves/internal/core"
	"decksaves/internal/version"
)

// State names the phases VersionedSync.Run moves through. Run reports
// phase changes as ProgressEvents whose Kind is "started", "progress",
// "completed" or "error" and whose Message describes the phase.
type State string

const (
	StateEnumerating     State = "enumerating"
	StateReconciling     State = "reconciling"
	StateTransferring    State = "transferring"
	StateManifestWriting State = "manifest_writing"
	StateCleaningUp       State = "cleaning_up"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Engine runs VersionedSync for one game against a StorageProvider.
type Engine struct {
	store     core.StorageProvider
	versions  *version.Manager
	clock     core.Clock
	logger    core.Logger
	policy    version.RetentionPolicy
	localBase string
	compress  bool
}

// New returns an Engine. A zero policy falls back to the package
// defaults in internal/version. localBase roots this engine's own local
// state (the restore-readiness cache and pre-restore backups) — it must
// be distinct from any of the game's configured save paths, since those
// are recursively enumerated as live save content on every sync. compress
// must match the StorageProvider's own compression setting — it only
// controls what reconcileOne records in FileVersion.StorageMetadata, not
// whether bytes are actually gzipped, which the provider decides on its
// own.
func New(store core.StorageProvider, clock core.Clock, logger core.Logger, policy version.RetentionPolicy, localBase string, compress bool) *Engine {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Engine{
		store:     store,
		versions:  version.New(clock),
		clock:     clock,
		logger:    logger,
		policy:    policy,
		localBase: localBase,
		compress:  compress,
	}
}

// Run reconciles every file under localRoot against the remote manifests
// for game, uploads changed files, downloads the latest version of every
// known file into the cache under localBase where it is missing there
// (localRoot itself is never written), writes manifests, applies
// retention cleanup, and emits progress to sink throughout.
func (e *Engine) Run(ctx context.Context, game, localRoot string, ignore *IgnoreMatcher, sink core.ProgressSink) (core.RunSummary, error) {
	if sink == nil {
		sink = core.NopSink
	}
	summary := core.RunSummary{Game: game}

	sink(core.ProgressEvent{Kind: "started", Game: game, Message: "enumerating local files"})
	localFiles, err := enumerateLocal(localRoot, ignore)
	if err != nil {
		sink(core.ProgressEvent{Kind: "error", Game: game, Error: err.Error()})
		return summary, fmt.Errorf("enumerating %s: %w", localRoot, err)
	}

	sink(core.ProgressEvent{Kind: "progress", Game: game, Message: "reconciling against remote history"})
	remoteOnly, err := e.remoteOnlyPaths(ctx, game, localFiles)
	if err != nil {
		sink(core.ProgressEvent{Kind: "error", Game: game, Error: err.Error()})
		return summary, fmt.Errorf("listing remote manifests for %s: %w", game, err)
	}

	sink(core.ProgressEvent{Kind: "progress", Game: game, Message: "uploading changed files"})
	for relPath, absPath := range localFiles {
		result := e.reconcileOne(ctx, game, relPath, absPath, sink)
		summary.Files = append(summary.Files, result)
		switch result.Action {
		case "uploaded":
			summary.Uploaded++
		case "skipped":
			summary.Skipped++
		case "conflict":
			summary.Conflicts++
		}
	}

	// Gap-fill the restore-readiness cache for every file this engine
	// knows about via a manifest — both files present locally and files
	// known only remotely — independent of whether a live file exists.
	cacheTargets := make(map[string]struct{}, len(localFiles)+len(remoteOnly))
	for relPath := range localFiles {
		cacheTargets[relPath] = struct{}{}
	}
	for relPath := range remoteOnly {
		cacheTargets[relPath] = struct{}{}
	}
	for relPath := range cacheTargets {
		result := e.fillCache(ctx, game, relPath, sink)
		summary.Files = append(summary.Files, result)
		if result.Action == "downloaded" {
			summary.Downloaded++
		}
	}

	sink(core.ProgressEvent{Kind: "progress", Game: game, Message: "applying retention policy"})
	if err := e.cleanupGame(ctx, game, localFiles, remoteOnly); err != nil {
		e.logger.Warn("retention cleanup failed", "game", game, "error", err)
	}

	sink(core.ProgressEvent{Kind: "completed", Game: game, Message: "sync complete"})
	return summary, nil
}

// remoteOnlyPaths returns the set of relative file paths that have a
// manifest in storage but no corresponding local file.
func (e *Engine) remoteOnlyPaths(ctx context.Context, game string, localFiles map[string]string) (map[string]struct{}, error) {
	prefix := fmt.Sprintf("manifests/%s/", game)
	keys, err := e.store.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := map[string]struct{}{}
	for _, key := range keys {
		relPath, ok := manifestKeyToRelPath(prefix, key)
		if !ok {
			continue
		}
		if _, local := localFiles[relPath]; !local {
			out[relPath] = struct{}{}
		}
	}
	return out, nil
}
