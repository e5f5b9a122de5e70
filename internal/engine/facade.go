// Package engine wires together configuration, storage, version
// tracking, filesystem watching, and the operation log into the single
// entry point a CLI or daemon front-end drives: Facade.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"decksaves/internal/config"
	"decksaves/internal/core"
	"decksaves/internal/history"
	"decksaves/internal/storage"
	"decksaves/internal/syncengine"
	"decksaves/internal/version"
	"decksaves/internal/watcher"
)

// DefaultSyncAllConcurrency bounds how many games SyncAll processes at
// once.
const DefaultSyncAllConcurrency = 4

// coalesceWindow is how long a caller that finds a sync already running
// for a game will wait for that run to finish before giving up with
// ErrBusy. It does not cancel the run itself — it only bounds how long
// a duplicate caller waits for it.
const coalesceWindow = 250 * time.Millisecond

// Facade is the single object a front-end constructs and drives. It owns
// the storage provider, the operation log, and every live filesystem
// watch. The ConfigStore is supplied by the caller; New loads the
// initial Config from it, and Config/UpdateConfig read and persist edits.
type Facade struct {
	cfgStore *config.Store
	unsealer config.Unsealer
	store    core.StorageProvider
	clock    core.Clock
	ids      core.IDGenerator
	logger    core.Logger
	logFile   *os.File
	history   *history.Log
	versions  *version.Manager
	localBase string

	syncConcurrency int

	mu        sync.Mutex
	cfg       *config.Config
	engines   map[string]*syncengine.Engine
	watches   map[string]*watchHandle
	inflight  map[string]bool
	sf        singleflight.Group
}

type watchHandle struct {
	reg *core.WatchRegistration
	w   *watcher.Watcher
}

// Options configures New. Clock, IDs, and Logger default to their real
// implementations when left zero.
type Options struct {
	Clock              core.Clock
	IDs                core.IDGenerator
	Logger             core.Logger
	LogDir             string // if set and Logger is nil, logs also go to LogDir/decksaves.log
	HistoryPath        string // ":memory:" or a file path; empty disables history
	SyncAllConcurrency int
}

// New loads cfg from cfgStore, constructs the storage provider, opens the
// operation log (if opts.HistoryPath is set), and returns a ready Facade.
func New(cfgStore *config.Store, unsealer config.Unsealer, opts Options) (*Facade, error) {
	cfg, err := cfgStore.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = core.UUIDGenerator{}
	}
	var logFile *os.File
	if opts.Logger == nil {
		if opts.LogDir != "" {
			l, f, err := core.NewFileLogger(opts.LogDir)
			if err != nil {
				return nil, fmt.Errorf("creating logger: %w", err)
			}
			opts.Logger = l
			logFile = f
		} else {
			opts.Logger = core.NewStderrLogger()
		}
	}
	if opts.SyncAllConcurrency <= 0 {
		opts.SyncAllConcurrency = DefaultSyncAllConcurrency
	}

	ctx := context.Background()
	store, err := storage.New(ctx, cfg, unsealer)
	if err != nil {
		return nil, fmt.Errorf("creating storage provider: %w", err)
	}

	var historyLog *history.Log
	if opts.HistoryPath != "" {
		historyLog, err = history.Open(opts.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("opening operation log: %w", err)
		}
	}

	return &Facade{
		cfgStore:        cfgStore,
		unsealer:        unsealer,
		store:           store,
		clock:           opts.Clock,
		ids:             opts.IDs,
		logger:          opts.Logger,
		logFile:         logFile,
		history:         historyLog,
		versions:        version.New(opts.Clock),
		localBase:       localBaseFor(cfg),
		syncConcurrency: opts.SyncAllConcurrency,
		cfg:             cfg,
		engines:         make(map[string]*syncengine.Engine),
		watches:         make(map[string]*watchHandle),
		inflight:        make(map[string]bool),
	}, nil
}

// localBaseFor returns the directory the sync engine roots its own local
// state in (the restore-readiness cache and pre-restore backups) — never
// one of a game's configured save paths, which get walked and re-versioned
// on every sync. cfg.LocalBasePath already serves this purpose for
// LocalFS-backed configs (see storage/factory.go); an S3-backed config
// with no local_base_path set falls back to a per-user cache directory.
func localBaseFor(cfg *config.Config) string {
	if cfg.LocalBasePath != "" {
		if expanded, err := core.ExpandHome(cfg.LocalBasePath); err == nil {
			return expanded
		}
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "decksaves")
	}
	return filepath.Join(os.TempDir(), "decksaves")
}

// Close stops every live watch, closes the operation log, and closes the
// log file if one was opened for the default logger.
func (f *Facade) Close() error {
	f.mu.Lock()
	handles := f.watches
	f.watches = make(map[string]*watchHandle)
	f.mu.Unlock()

	for _, h := range handles {
		h.w.Stop()
	}

	var err error
	if f.history != nil {
		err = f.history.Close()
	}
	if f.logFile != nil {
		if cerr := f.logFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// engineFor returns (creating if necessary) the syncengine.Engine for
// game. The engine gets a zero RetentionPolicy, so the package defaults
// in internal/version apply; no per-game retention setting is read.
func (f *Facade) engineFor(game string) *syncengine.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eng, ok := f.engines[game]; ok {
		return eng
	}
	policy := version.RetentionPolicy{}
	eng := syncengine.New(f.store, f.clock, f.logger, policy, f.localBase, f.cfg.EnableCompression)
	f.engines[game] = eng
	return eng
}

// gameConfig returns game's configuration with every SavePaths entry
// tilde-expanded, so every caller (SyncGame, WatchGame, RestoreVersion)
// gets a real filesystem path without re-deriving one.
func (f *Facade) gameConfig(game string) (core.GameConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gc, ok := f.cfg.Games[game]
	if !ok {
		return core.GameConfig{}, fmt.Errorf("%w: unknown game %s", core.ErrConfigInvalid, game)
	}
	expanded := make([]string, len(gc.SavePaths))
	for i, p := range gc.SavePaths {
		ep, err := core.ExpandHome(p)
		if err != nil {
			return core.GameConfig{}, fmt.Errorf("%w: expanding save path %s: %v", core.ErrConfigInvalid, p, err)
		}
		expanded[i] = ep
	}
	gc.SavePaths = expanded
	return gc, nil
}
