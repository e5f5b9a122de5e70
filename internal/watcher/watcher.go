// Package watcher implements PathWatcher: a debounced, batched,
// lock-aware filesystem watch used to trigger a sync run shortly after a
// game finishes writing its save files.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"decksaves/internal/core"
)

// EventKind classifies one coalesced path change.
type EventKind string

const (
	EventCreated     EventKind = "created"
	EventModified    EventKind = "modified"
	EventDeleted     EventKind = "deleted"
	EventRenamedFrom EventKind = "renamed-from"
	EventRenamedTo   EventKind = "renamed-to"
)

// PathEvent is one file's outcome within a debounce window.
type PathEvent struct {
	Path          string
	Kind          EventKind
	PossiblyInUse bool
}

// Batch is every path that settled within one debounce window for one
// registration.
type Batch struct {
	GameID string
	Events []PathEvent
}

const (
	// DefaultDebounce is the sliding window: the window timer resets on
	// every new event, and fires once the whole root has gone quiet.
	DefaultDebounce = 2 * time.Second

	lockProbeAttempts = 6
	lockProbeBackoff  = 5 * time.Second

	// renameCorrelationWindow bounds how long a Create event can be
	// attributed to a preceding Rename: fsnotify fires Rename only on the
	// old path (like inotify's IN_MOVED_FROM) and Create on the new one,
	// as two independent events with no shared token to join them.
	renameCorrelationWindow = 2 * time.Second
)

// pendingEvent tracks one path's coalesced state within the current
// window, plus how many times it's been bounced back for being locked.
type pendingEvent struct {
	kind        EventKind
	sticky      bool // true once kind is EventDeleted or EventRenamedFrom; only created/renamed-to clears it
	lockAttempt int
}

// Watcher watches one or more roots for a single game and emits a Batch
// per debounce window on Batches. One Watcher corresponds to one
// WatchRegistration.
type Watcher struct {
	gameID   string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	logger   core.Logger

	Batches chan Batch

	mu             sync.Mutex
	pending        map[string]*pendingEvent
	timer          *time.Timer
	lastRenameFrom time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher for gameID, recursively registering every
// directory under each root with the OS watch. debounce <= 0 uses
// DefaultDebounce.
func New(gameID string, roots []string, debounce time.Duration, logger core.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	for _, root := range roots {
		if err := addRecursive(fsw, root); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", root, err)
		}
	}

	w := &Watcher{
		gameID:   gameID,
		debounce: debounce,
		fsw:      fsw,
		logger:   logger,
		Batches:  make(chan Batch, 1),
		pending:  make(map[string]*pendingEvent),
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		return fsw.Add(path)
	})
}

// Stop releases the underlying OS watch handles and stops emitting
// batches. Deterministic: by the time Stop returns, no further send on
// Batches will occur.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "game", w.gameID, "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	w.mu.Lock()

	var kind EventKind
	switch {
	case ev.Op&fsnotify.Create != 0:
		if !w.lastRenameFrom.IsZero() && time.Since(w.lastRenameFrom) <= renameCorrelationWindow {
			kind = EventRenamedTo
		} else {
			kind = EventCreated
		}
	case ev.Op&fsnotify.Write != 0:
		kind = EventModified
	case ev.Op&fsnotify.Remove != 0:
		kind = EventDeleted
	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the source path only — the inotify
		// equivalent is IN_MOVED_FROM, not a creation.
		kind = EventRenamedFrom
		w.lastRenameFrom = time.Now()
	default:
		w.mu.Unlock()
		return
	}

	p, exists := w.pending[ev.Name]
	if !exists {
		p = &pendingEvent{}
		w.pending[ev.Name] = p
	}

	// Deleted/renamed-from are sticky: once a path is marked gone within a
	// window, only a later created/renamed-to event for that same path
	// clears it, so the event immediately following (e.g. an unrelated
	// write) doesn't mask the departure.
	if p.sticky && kind != EventCreated && kind != EventRenamedTo {
		kind = EventDeleted
	}
	p.kind = kind
	p.sticky = kind == EventDeleted || kind == EventRenamedFrom

	w.resetWindowLocked()
	w.mu.Unlock()

	if kind == EventCreated || kind == EventRenamedTo {
		w.maybeWatchNewDir(ev.Name)
	}
}

func (w *Watcher) maybeWatchNewDir(path string) {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		w.fsw.Add(path)
	}
}

// resetWindowLocked restarts the single sliding window timer for the
// whole registration. Must be called with w.mu held.
func (w *Watcher) resetWindowLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fireWindow)
}

// fireWindow drains every settled path into one Batch. A path that's
// still locked is requeued for the next window with backoff instead of
// being included, up to lockProbeAttempts times, after which it's
// emitted anyway with PossiblyInUse set.
func (w *Watcher) fireWindow() {
	w.mu.Lock()
	if w.pending == nil { // Stop() raced us
		w.mu.Unlock()
		return
	}
	pending := w.pending
	w.pending = make(map[string]*pendingEvent)
	w.timer = nil
	w.mu.Unlock()

	var batch []PathEvent
	for path, p := range pending {
		if p.kind == EventDeleted || p.kind == EventRenamedFrom {
			batch = append(batch, PathEvent{Path: path, Kind: p.kind})
			continue
		}

		if probablyLocked(path) && p.lockAttempt < lockProbeAttempts-1 {
			w.requeueLocked(path, p)
			continue
		}
		batch = append(batch, PathEvent{
			Path:          path,
			Kind:          p.kind,
			PossiblyInUse: p.lockAttempt >= lockProbeAttempts-1 && probablyLocked(path),
		})
	}

	if len(batch) > 0 {
		w.send(Batch{GameID: w.gameID, Events: batch})
	}
}

func (w *Watcher) requeueLocked(path string, p *pendingEvent) {
	p.lockAttempt++
	time.AfterFunc(lockProbeBackoff, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.pending == nil {
			return
		}
		if existing, ok := w.pending[path]; ok {
			// A fresh event arrived for this path during the backoff —
			// let its own window handle it instead of overwriting state.
			_ = existing
			return
		}
		w.pending[path] = p
		w.resetWindowLocked()
	})
}

func (w *Watcher) send(b Batch) {
	select {
	case w.Batches <- b:
	case <-w.done:
	}
}

// probablyLocked reports whether path is likely still being written: an
// exclusive open fails on most platforms while another process holds a
// write handle. A best-effort probe — false negatives just mean a sync
// starts slightly before the game is done flushing.
func probablyLocked(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return os.IsPermission(err)
	}
	f.Close()
	return false
}
