package engine

import (
	"context"
	"fmt"

	"decksaves/internal/config"
	"decksaves/internal/storage"
	"decksaves/internal/syncengine"
)

// Config returns a defensive snapshot of the current configuration.
func (f *Facade) Config() *config.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Clone()
}

// UpdateConfig validates newCfg, persists it via the configured
// ConfigStore, and rebuilds the storage provider and every per-game
// engine (whether or not the storage backend settings changed) so the
// new settings take effect on the next sync rather than requiring a
// restart.
//
// Any game with a live watch keeps that watch running against whatever
// save paths it was started with; call StopWatching/WatchGame again if
// the caller wants the watch itself re-derived from the new config.
func (f *Facade) UpdateConfig(ctx context.Context, newCfg *config.Config) error {
	if err := newCfg.Validate(f.unsealer); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := f.cfgStore.Save(newCfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	store, err := storage.New(ctx, newCfg, f.unsealer)
	if err != nil {
		return fmt.Errorf("creating storage provider for updated config: %w", err)
	}

	f.mu.Lock()
	f.cfg = newCfg.Clone()
	f.store = store
	f.localBase = localBaseFor(f.cfg)
	f.engines = make(map[string]*syncengine.Engine)
	f.mu.Unlock()
	return nil
}

// TestRemoteConnection verifies the currently configured remote storage
// backend is reachable and the configured credentials are accepted, by
// attempting a harmless existence check against a sentinel key. It does
// not mutate anything.
func (f *Facade) TestRemoteConnection(ctx context.Context) error {
	f.mu.Lock()
	cfg := f.cfg
	f.mu.Unlock()

	if cfg.UseLocalStorage {
		return nil
	}

	store, err := storage.New(ctx, cfg, f.unsealer)
	if err != nil {
		return fmt.Errorf("connecting to remote storage: %w", err)
	}
	if _, err := store.Exists(ctx, "connection-check"); err != nil {
		return fmt.Errorf("connecting to remote storage: %w", err)
	}
	return nil
}
