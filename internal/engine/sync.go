package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"decksaves/internal/core"
	"decksaves/internal/syncengine"
)

// SyncGame runs VersionedSync for every configured save path of game.
// Concurrent callers for the same game are coalesced: if a sync for
// game is already running, a second caller waits up to coalesceWindow
// for it to finish and shares its result; past that window it gives up
// with an error wrapping core.ErrBusy rather than queuing indefinitely.
// The running sync itself is never cancelled by a timed-out waiter.
func (f *Facade) SyncGame(ctx context.Context, game string, sink core.ProgressSink) (core.RunSummary, error) {
	f.mu.Lock()
	isLeader := !f.inflight[game]
	f.inflight[game] = true
	f.mu.Unlock()

	type outcome struct {
		summary core.RunSummary
		err     error
	}
	ch := f.sf.DoChan(game, func() (any, error) {
		defer func() {
			f.mu.Lock()
			delete(f.inflight, game)
			f.mu.Unlock()
		}()
		summary, err := f.runSync(ctx, game, sink)
		return outcome{summary, err}, nil
	})

	if isLeader {
		select {
		case res := <-ch:
			out := res.Val.(outcome)
			return out.summary, out.err
		case <-ctx.Done():
			return core.RunSummary{}, ctx.Err()
		}
	}

	select {
	case res := <-ch:
		out := res.Val.(outcome)
		return out.summary, out.err
	case <-time.After(coalesceWindow):
		return core.RunSummary{}, fmt.Errorf("%w: %s", core.ErrBusy, game)
	case <-ctx.Done():
		return core.RunSummary{}, ctx.Err()
	}
}

// runSync performs the actual VersionedSync pass (and operation log
// bookkeeping) for every configured save path of game; it is invoked at
// most once concurrently per game via the singleflight coordination in
// SyncGame.
func (f *Facade) runSync(ctx context.Context, game string, sink core.ProgressSink) (core.RunSummary, error) {
	gc, err := f.gameConfig(game)
	if err != nil {
		return core.RunSummary{}, err
	}
	if len(gc.SavePaths) == 0 {
		return core.RunSummary{}, fmt.Errorf("%w: %s has no configured save paths", core.ErrConfigInvalid, game)
	}

	ignoreMatcher := f.ignoreMatcherFor(gc)
	eng := f.engineFor(game)

	var opID int64
	if f.history != nil {
		opID, err = f.history.Start(ctx, game, "sync", "", f.clock.Now())
		if err != nil {
			f.logger.Warn("failed to record sync start", "game", game, "error", err)
		}
	}

	combined := core.RunSummary{Game: game}
	var runErr error
	for _, root := range gc.SavePaths {
		summary, err := eng.Run(ctx, game, root, ignoreMatcher, sink)
		combined.Uploaded += summary.Uploaded
		combined.Downloaded += summary.Downloaded
		combined.Skipped += summary.Skipped
		combined.Conflicts += summary.Conflicts
		combined.BytesMoved += summary.BytesMoved
		combined.Files = append(combined.Files, summary.Files...)
		if err != nil {
			runErr = err
			break
		}
	}

	if f.history != nil && opID != 0 {
		status := "completed"
		if runErr != nil {
			status = "failed"
		}
		if err := f.history.Finish(ctx, opID, status, f.clock.Now()); err != nil {
			f.logger.Warn("failed to record sync finish", "game", game, "error", err)
		}
	}

	return combined, runErr
}

// SyncAll runs SyncGame for every sync-enabled game, bounding concurrency
// to the facade's configured SyncAllConcurrency. A failure for one game
// does not stop the others; the returned map holds every game's error
// (nil on success).
func (f *Facade) SyncAll(ctx context.Context, sink core.ProgressSink) (map[string]core.RunSummary, map[string]error) {
	f.mu.Lock()
	games := make([]string, 0, len(f.cfg.Games))
	for name, gc := range f.cfg.Games {
		if gc.SyncEnabled {
			games = append(games, name)
		}
	}
	concurrency := f.syncConcurrency
	f.mu.Unlock()

	summaries := make(map[string]core.RunSummary, len(games))
	errs := make(map[string]error, len(games))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, game := range games {
		game := game
		g.Go(func() error {
			summary, err := f.SyncGame(gctx, game, sink)
			resultsMu.Lock()
			summaries[game] = summary
			errs[game] = err
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return summaries, errs
}

// ignoreMatcherFor merges the .syncignore patterns found at the root of
// every configured save path for gc into a single IgnoreMatcher shared
// across the whole sync run.
func (f *Facade) ignoreMatcherFor(gc core.GameConfig) *syncengine.IgnoreMatcher {
	var patterns []string
	for _, root := range gc.SavePaths {
		found, err := syncengine.ParseIgnoreFile(filepath.Join(root, ".syncignore"))
		if err != nil {
			f.logger.Warn("failed to read .syncignore", "path", root, "error", err)
			continue
		}
		patterns = append(patterns, found...)
	}
	return syncengine.NewIgnoreMatcher(patterns)
}
