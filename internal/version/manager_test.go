package version_test

import (
	"testing"
	"time"

	"decksaves/internal/core"
	"decksaves/internal/testutil"
	"decksaves/internal/version"
)

func newManifest() *core.GameVersionManifest {
	return &core.GameVersionManifest{Game: "stardew-valley", RelativeFilePath: "Saves/Farm_1"}
}

func TestManager_CreateVersion(t *testing.T) {
	t.Parallel()

	t.Run("appends a new version for new content", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		m := version.New(clock)
		manifest := newManifest()

		v, created := m.CreateVersion(manifest, core.HashBytes([]byte("a")), 1, "")
		if !created {
			t.Fatal("CreateVersion() created = false, want true")
		}
		if len(manifest.Versions) != 1 {
			t.Fatalf("len(manifest.Versions) = %d, want 1", len(manifest.Versions))
		}
		if manifest.Versions[0].VersionID != v.VersionID {
			t.Errorf("manifest not updated with the new version")
		}
	})

	t.Run("is a no-op when hash matches the latest version", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		m := version.New(clock)
		manifest := newManifest()
		hash := core.HashBytes([]byte("same"))

		first, _ := m.CreateVersion(manifest, hash, 5, "")
		clock.Advance(time.Hour)
		second, created := m.CreateVersion(manifest, hash, 5, "")

		if created {
			t.Error("CreateVersion() created = true on repeated hash, want false")
		}
		if second.VersionID != first.VersionID {
			t.Errorf("CreateVersion() returned a different version on hash match")
		}
		if len(manifest.Versions) != 1 {
			t.Errorf("len(manifest.Versions) = %d, want 1", len(manifest.Versions))
		}
	})

	t.Run("creates a distinct version when the hash changes", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		m := version.New(clock)
		manifest := newManifest()

		m.CreateVersion(manifest, core.HashBytes([]byte("a")), 1, "")
		clock.Advance(time.Minute)
		_, created := m.CreateVersion(manifest, core.HashBytes([]byte("b")), 2, "")

		if !created {
			t.Error("CreateVersion() created = false on changed hash, want true")
		}
		if len(manifest.Versions) != 2 {
			t.Fatalf("len(manifest.Versions) = %d, want 2", len(manifest.Versions))
		}
	})
}

func TestManager_PinUnpin(t *testing.T) {
	t.Parallel()
	clock := testutil.FixedClock()
	m := version.New(clock)
	manifest := newManifest()
	v, _ := m.CreateVersion(manifest, core.HashBytes([]byte("a")), 1, "")

	if err := m.Pin(manifest, v.VersionID); err != nil {
		t.Fatalf("Pin() error = %v", err)
	}
	if !manifest.Find(v.VersionID).IsPinned {
		t.Error("version not pinned after Pin()")
	}

	if err := m.Unpin(manifest, v.VersionID); err != nil {
		t.Fatalf("Unpin() error = %v", err)
	}
	if manifest.Find(v.VersionID).IsPinned {
		t.Error("version still pinned after Unpin()")
	}

	if err := m.Pin(manifest, "nonexistent"); err == nil {
		t.Error("Pin() of unknown version id returned nil error, want ErrNotFound")
	}
}

func TestManager_AutoPin(t *testing.T) {
	t.Parallel()
	clock := testutil.FixedClock()
	m := version.New(clock)
	manifest := newManifest()

	base := clock.Now()
	for i := 0; i < 5; i++ {
		clock.Set(base.AddDate(0, 0, i))
		m.CreateVersion(manifest, core.HashBytes([]byte{byte(i)}), 1, "")
	}

	m.AutoPin(manifest)

	pinned := 0
	for _, v := range manifest.Versions {
		if v.IsPinned {
			pinned++
		}
	}
	if pinned == 0 {
		t.Error("AutoPin() pinned nothing, want at least one daily pin")
	}

	// Idempotent: pin count doesn't change on a second call with no new
	// versions.
	m.AutoPin(manifest)
	pinnedAgain := 0
	for _, v := range manifest.Versions {
		if v.IsPinned {
			pinnedAgain++
		}
	}
	if pinnedAgain != pinned {
		t.Errorf("AutoPin() pinned count changed on repeat call: %d -> %d", pinned, pinnedAgain)
	}
}

func TestManager_AutoPin_NeverRemovesExistingPin(t *testing.T) {
	t.Parallel()
	clock := testutil.FixedClock()
	m := version.New(clock)
	manifest := newManifest()

	base := clock.Now()
	clock.Set(base)
	v1, _ := m.CreateVersion(manifest, core.HashBytes([]byte("a")), 1, "")
	m.Pin(manifest, v1.VersionID)

	clock.Set(base.Add(time.Hour))
	m.CreateVersion(manifest, core.HashBytes([]byte("b")), 1, "")

	m.AutoPin(manifest)

	if !manifest.Find(v1.VersionID).IsPinned {
		t.Error("AutoPin() removed a pre-existing pin")
	}
}

func TestManager_Cleanup(t *testing.T) {
	t.Parallel()

	t.Run("prunes unpinned versions beyond the count limit, oldest first", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		m := version.New(clock)
		manifest := newManifest()

		base := clock.Now()
		var ids []string
		for i := 0; i < 15; i++ {
			clock.Set(base.Add(time.Duration(i) * time.Minute))
			v, _ := m.CreateVersion(manifest, core.HashBytes([]byte{byte(i)}), 1, "")
			ids = append(ids, v.VersionID)
		}

		removed := m.Cleanup(manifest, version.RetentionPolicy{MaxUnpinnedVersions: 10, MaxAgeDays: 3650})

		if len(removed) != 5 {
			t.Fatalf("len(removed) = %d, want 5", len(removed))
		}
		if len(manifest.Versions) != 10 {
			t.Fatalf("len(manifest.Versions) = %d, want 10", len(manifest.Versions))
		}
		if manifest.Versions[0].VersionID != ids[5] {
			t.Errorf("oldest surviving version = %s, want %s", manifest.Versions[0].VersionID, ids[5])
		}
	})

	t.Run("prunes versions older than the age limit", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		m := version.New(clock)
		manifest := newManifest()

		base := clock.Now()
		clock.Set(base)
		m.CreateVersion(manifest, core.HashBytes([]byte("old")), 1, "")
		clock.Set(base.AddDate(0, 0, 40))
		m.CreateVersion(manifest, core.HashBytes([]byte("new")), 1, "")

		removed := m.Cleanup(manifest, version.RetentionPolicy{MaxUnpinnedVersions: 100, MaxAgeDays: 30})

		if len(removed) != 1 {
			t.Fatalf("len(removed) = %d, want 1", len(removed))
		}
		if len(manifest.Versions) != 1 {
			t.Fatalf("len(manifest.Versions) = %d, want 1", len(manifest.Versions))
		}
	})

	t.Run("never removes pinned versions or the latest version", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		m := version.New(clock)
		manifest := newManifest()

		base := clock.Now()
		clock.Set(base)
		old, _ := m.CreateVersion(manifest, core.HashBytes([]byte("old")), 1, "")
		m.Pin(manifest, old.VersionID)

		clock.Set(base.AddDate(1, 0, 0))
		latest, _ := m.CreateVersion(manifest, core.HashBytes([]byte("latest")), 1, "")

		removed := m.Cleanup(manifest, version.RetentionPolicy{MaxUnpinnedVersions: 0, MaxAgeDays: 1})

		if len(removed) != 0 {
			t.Fatalf("Cleanup() removed %v, want nothing", removed)
		}
		if manifest.Find(old.VersionID) == nil || manifest.Find(latest.VersionID) == nil {
			t.Error("Cleanup() removed a pinned or latest version")
		}
	})

	t.Run("an interleaved pin still occupies a rank slot", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		m := version.New(clock)
		manifest := newManifest()

		base := clock.Now()
		var ids []string
		for i := 0; i < 12; i++ {
			clock.Set(base.Add(time.Duration(i) * time.Minute))
			v, _ := m.CreateVersion(manifest, core.HashBytes([]byte{byte(i)}), 1, "")
			ids = append(ids, v.VersionID)
		}
		// Pin the 3rd-oldest version; it sits 10th from the newest end.
		if err := m.Pin(manifest, ids[2]); err != nil {
			t.Fatalf("Pin() error = %v", err)
		}

		removed := m.Cleanup(manifest, version.RetentionPolicy{MaxUnpinnedVersions: 10, MaxAgeDays: 3650})

		if len(removed) != 2 {
			t.Fatalf("len(removed) = %d, want 2: %v", len(removed), removed)
		}
		for _, want := range []string{ids[0], ids[1]} {
			found := false
			for _, r := range removed {
				if r == want {
					found = true
				}
			}
			if !found {
				t.Errorf("removed = %v, want it to include %s", removed, want)
			}
		}
		if len(manifest.Versions) != 10 {
			t.Fatalf("len(manifest.Versions) = %d, want 10", len(manifest.Versions))
		}
		if manifest.Find(ids[2]) == nil {
			t.Error("Cleanup() removed the pinned version")
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		m := version.New(clock)
		manifest := newManifest()

		base := clock.Now()
		for i := 0; i < 20; i++ {
			clock.Set(base.Add(time.Duration(i) * time.Minute))
			m.CreateVersion(manifest, core.HashBytes([]byte{byte(i)}), 1, "")
		}

		policy := version.RetentionPolicy{MaxUnpinnedVersions: 5, MaxAgeDays: 3650}
		m.Cleanup(manifest, policy)
		before := len(manifest.Versions)
		removedAgain := m.Cleanup(manifest, policy)

		if len(removedAgain) != 0 {
			t.Errorf("second Cleanup() removed %v, want nothing", removedAgain)
		}
		if len(manifest.Versions) != before {
			t.Errorf("second Cleanup() changed version count: %d -> %d", before, len(manifest.Versions))
		}
	})
}

func TestFind(t *testing.T) {
	t.Parallel()
	clock := testutil.FixedClock()
	m := version.New(clock)
	manifest := newManifest()
	v, _ := m.CreateVersion(manifest, core.HashBytes([]byte("a")), 1, "")

	got, err := version.Find(manifest, v.VersionID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got.VersionID != v.VersionID {
		t.Errorf("Find() = %v, want %v", got, v)
	}

	_, err = version.Find(manifest, "nonexistent")
	if err == nil {
		t.Error("Find() of unknown version returned nil error, want ErrUnknownVersion")
	}
}
