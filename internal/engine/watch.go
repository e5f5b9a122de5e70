package engine

import (
	"context"
	"fmt"

	"decksaves/internal/core"
	"decksaves/internal/watcher"
)

// WatchGame starts a filesystem watch over game's configured save paths.
// Each settled batch triggers a SyncGame run in the background; watch
// errors and sync errors alike are logged, never returned to the
// caller after the watch has started, since the watch outlives this
// call.
func (f *Facade) WatchGame(ctx context.Context, game string) error {
	f.mu.Lock()
	if _, exists := f.watches[game]; exists {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	gc, err := f.gameConfig(game)
	if err != nil {
		return err
	}
	if len(gc.SavePaths) == 0 {
		return fmt.Errorf("%w: %s has no configured save paths to watch", core.ErrConfigInvalid, game)
	}

	w, err := watcher.New(game, gc.SavePaths, watcher.DefaultDebounce, f.logger)
	if err != nil {
		return fmt.Errorf("starting watch for %s: %w", game, err)
	}

	reg := &core.WatchRegistration{
		GameID:   game,
		Roots:    gc.SavePaths,
		Debounce: watcher.DefaultDebounce,
	}

	f.mu.Lock()
	f.watches[game] = &watchHandle{reg: reg, w: w}
	f.mu.Unlock()

	go f.drainBatches(ctx, game, w)
	return nil
}

// drainBatches triggers a sync each time w emits a settled batch, until
// w.Stop() closes its Batches channel.
func (f *Facade) drainBatches(ctx context.Context, game string, w *watcher.Watcher) {
	for range w.Batches {
		if _, err := f.SyncGame(ctx, game, nil); err != nil {
			f.logger.Warn("watch-triggered sync failed", "game", game, "error", err)
		}
	}
}

// StopWatching stops the live watch for game, if any. Idempotent.
func (f *Facade) StopWatching(game string) {
	f.mu.Lock()
	h, ok := f.watches[game]
	if ok {
		delete(f.watches, game)
	}
	f.mu.Unlock()

	if ok {
		h.w.Stop()
	}
}

// WatchedGames returns the game ids with a currently active watch.
func (f *Facade) WatchedGames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.watches))
	for game := range f.watches {
		out = append(out, game)
	}
	return out
}
