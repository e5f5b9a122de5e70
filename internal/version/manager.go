// Package version implements VersionManager: creating new FileVersion
// entries against a GameVersionManifest, and applying retention policy
// (auto-pinning and unpinned-version cleanup) to the manifest over time.
package version

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"decksaves/internal/core"
)

const (
	// DefaultMaxUnpinnedVersions bounds how many unpinned versions Cleanup
	// keeps per file before pruning the oldest.
	DefaultMaxUnpinnedVersions = 10

	// DefaultMaxAgeDays bounds how long an unpinned version survives
	// regardless of count, before Cleanup prunes it.
	DefaultMaxAgeDays = 30
)

// RetentionPolicy configures Cleanup. Zero values fall back to the
// package defaults.
type RetentionPolicy struct {
	MaxUnpinnedVersions int
	MaxAgeDays          int
}

func (p RetentionPolicy) withDefaults() RetentionPolicy {
	if p.MaxUnpinnedVersions <= 0 {
		p.MaxUnpinnedVersions = DefaultMaxUnpinnedVersions
	}
	if p.MaxAgeDays <= 0 {
		p.MaxAgeDays = DefaultMaxAgeDays
	}
	return p
}

// Manager creates and prunes FileVersion entries within a
// GameVersionManifest. It never touches a StorageProvider directly — the
// caller (VersionedSync) owns uploading/deleting blobs; Manager only
// decides which version ids to add or drop.
type Manager struct {
	clock core.Clock
}

// New returns a Manager that timestamps new versions using clock.
func New(clock core.Clock) *Manager {
	return &Manager{clock: clock}
}

// CreateVersion appends a new FileVersion for the given content to
// manifest, unless hash already matches the manifest's latest version, in
// which case it returns the existing latest version unchanged (a
// hash-equal write is a no-op, not a new version). The returned bool
// reports whether a new version was actually appended.
func (m *Manager) CreateVersion(manifest *core.GameVersionManifest, hash string, size int64, description string) (core.FileVersion, bool) {
	if latest := manifest.Latest(); latest != nil && latest.Hash == hash {
		return *latest, false
	}

	ts := m.clock.Now()
	v := core.FileVersion{
		VersionID:   core.NewVersionID(ts, hash),
		Timestamp:   ts,
		SizeBytes:   uint64(size),
		Hash:        hash,
		Description: description,
	}
	manifest.Versions = append(manifest.Versions, v)
	sortVersions(manifest.Versions)
	manifest.UpdatedAt = ts
	return v, true
}

func sortVersions(versions []core.FileVersion) {
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].Timestamp.Equal(versions[j].Timestamp) {
			return versions[i].VersionID < versions[j].VersionID
		}
		return versions[i].Timestamp.Before(versions[j].Timestamp)
	})
}

// Pin marks versionID as pinned, exempting it from Cleanup. Returns an
// error wrapping core.ErrNotFound if no such version exists.
func (m *Manager) Pin(manifest *core.GameVersionManifest, versionID string) error {
	return m.setPinned(manifest, versionID, true)
}

// Unpin clears the pin on versionID. Returns an error wrapping
// core.ErrNotFound if no such version exists.
func (m *Manager) Unpin(manifest *core.GameVersionManifest, versionID string) error {
	return m.setPinned(manifest, versionID, false)
}

func (m *Manager) setPinned(manifest *core.GameVersionManifest, versionID string, pinned bool) error {
	for i := range manifest.Versions {
		if manifest.Versions[i].VersionID == versionID {
			manifest.Versions[i].IsPinned = pinned
			return nil
		}
	}
	return fmt.Errorf("%w: version %s", core.ErrNotFound, versionID)
}

// bucketFunc maps a timestamp to an opaque bucket key; two versions in the
// same bucket compete for that bucket's auto-pin.
type bucketFunc func(time.Time) string

// AutoPin pins the most recent version in each of the daily, weekly,
// monthly, and yearly buckets that don't already have a pin, without ever
// removing a pin that already exists. It is idempotent: calling it twice
// in a row produces no further change.
func (m *Manager) AutoPin(manifest *core.GameVersionManifest) {
	buckets := []bucketFunc{dailyBucket, weeklyBucket, monthlyBucket, yearlyBucket}
	for _, bucket := range buckets {
		m.autoPinBucket(manifest, bucket)
	}
}

func (m *Manager) autoPinBucket(manifest *core.GameVersionManifest, bucket bucketFunc) {
	type candidate struct {
		index      int
		alreadyPin bool
	}
	best := map[string]candidate{}

	for i, v := range manifest.Versions {
		key := bucket(v.Timestamp.UTC())
		cur, ok := best[key]
		if v.IsPinned {
			// A bucket that already has a pin needs no auto-pin decision.
			best[key] = candidate{index: i, alreadyPin: true}
			continue
		}
		if cur.alreadyPin {
			continue
		}
		if !ok || manifest.Versions[i].Timestamp.After(manifest.Versions[cur.index].Timestamp) {
			best[key] = candidate{index: i, alreadyPin: false}
		}
	}

	for _, c := range best {
		if !c.alreadyPin {
			manifest.Versions[c.index].IsPinned = true
		}
	}
}

func dailyBucket(t time.Time) string {
	return fmt.Sprintf("d:%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
}

func weeklyBucket(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("w:%04d-%02d", year, week)
}

func monthlyBucket(t time.Time) string {
	return fmt.Sprintf("m:%04d-%02d", t.Year(), t.Month())
}

func yearlyBucket(t time.Time) string {
	return fmt.Sprintf("y:%04d", t.Year())
}

// Cleanup prunes unpinned versions from manifest according to policy,
// always preserving pinned versions and the single latest version
// regardless of pin state. It returns the version ids removed, so the
// caller can delete the corresponding blobs. Cleanup mutates manifest in
// place and is idempotent — running it again with the same policy and no
// intervening writes removes nothing further.
func (m *Manager) Cleanup(manifest *core.GameVersionManifest, policy RetentionPolicy) []string {
	policy = policy.withDefaults()
	if len(manifest.Versions) == 0 {
		return nil
	}

	now := m.clock.Now()
	maxAge := time.Duration(policy.MaxAgeDays) * 24 * time.Hour
	latestID := manifest.Versions[len(manifest.Versions)-1].VersionID

	var keep []core.FileVersion
	var removed []string
	rank := 0

	// Iterate newest-first, ranking every version by recency — pinned
	// versions still occupy a rank slot (so an old pin doesn't let more
	// than MaxUnpinnedVersions unpinned versions survive beneath it),
	// they're just exempt from removal once ranked.
	for i := len(manifest.Versions) - 1; i >= 0; i-- {
		v := manifest.Versions[i]
		rank++

		if v.IsPinned || v.VersionID == latestID {
			keep = append(keep, v)
			continue
		}

		tooOld := now.Sub(v.Timestamp) > maxAge
		tooMany := rank > policy.MaxUnpinnedVersions
		if tooOld || tooMany {
			removed = append(removed, v.VersionID)
			continue
		}

		keep = append(keep, v)
	}

	sort.Slice(keep, func(i, j int) bool {
		return keep[i].Timestamp.Before(keep[j].Timestamp)
	})
	manifest.Versions = keep
	return removed
}

// Find locates a version by id, returning an error wrapping
// core.ErrUnknownVersion if absent.
func Find(manifest *core.GameVersionManifest, versionID string) (core.FileVersion, error) {
	if v := manifest.Find(versionID); v != nil {
		return *v, nil
	}
	return core.FileVersion{}, fmt.Errorf("%w: %s", core.ErrUnknownVersion, versionID)
}

// LoadManifest fetches and decodes the manifest for game/relPath from
// store, returning an empty manifest (not an error) if none exists yet.
func LoadManifest(ctx context.Context, store core.StorageProvider, game, relPath string) (*core.GameVersionManifest, error) {
	var manifest core.GameVersionManifest
	err := store.GetJSON(ctx, core.ManifestKey(game, relPath), &manifest)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return &core.GameVersionManifest{Game: game, RelativeFilePath: relPath}, nil
		}
		return nil, err
	}
	return &manifest, nil
}

// SaveManifest writes manifest back to store at its canonical key.
func SaveManifest(ctx context.Context, store core.StorageProvider, manifest *core.GameVersionManifest) error {
	key := core.ManifestKey(manifest.Game, manifest.RelativeFilePath)
	return store.PutJSON(ctx, key, manifest)
}
