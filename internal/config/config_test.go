package config_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"decksaves/internal/config"
	"decksaves/internal/core"
	"decksaves/internal/testutil"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	t.Parallel()

	original := &config.Config{
		UseLocalStorage:     true,
		LocalBasePath:       "/home/user/.local/share/decksaves",
		SyncIntervalMinutes: 30,
		AutoSync:            true,
		EnableCompression:   true,
		Games: map[string]core.GameConfig{
			"stardew-valley": {
				Name:        "Stardew Valley",
				SavePaths:   []string{"/home/user/Saves/StardewValley"},
				SyncEnabled: true,
			},
		},
	}

	var buf bytes.Buffer
	m := &config.Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.LocalBasePath != original.LocalBasePath {
		t.Errorf("LocalBasePath = %q, want %q", got.LocalBasePath, original.LocalBasePath)
	}
	if got.SyncIntervalMinutes != original.SyncIntervalMinutes {
		t.Errorf("SyncIntervalMinutes = %d, want %d", got.SyncIntervalMinutes, original.SyncIntervalMinutes)
	}
	if len(got.Games) != 1 {
		t.Fatalf("len(Games) = %d, want 1", len(got.Games))
	}
	gc, ok := got.Games["stardew-valley"]
	if !ok {
		t.Fatal("expected stardew-valley game to round-trip")
	}
	if gc.Name != "Stardew Valley" || !gc.SyncEnabled || len(gc.SavePaths) != 1 {
		t.Errorf("game round-tripped incorrectly: %+v", gc)
	}
}

func TestStore_InitLoadSave(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	store := config.NewStore(path)

	cfg := config.NewDefault(filepath.Join(dir, "versions"))
	if err := store.Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	if err := store.Init(cfg); err == nil {
		t.Fatal("second Init() on an existing file: expected error")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.LocalBasePath != cfg.LocalBasePath {
		t.Errorf("LocalBasePath = %q, want %q", loaded.LocalBasePath, cfg.LocalBasePath)
	}
	if loaded.Games == nil {
		t.Error("Load() should never leave Games nil")
	}

	loaded.Games["new-game"] = core.GameConfig{Name: "New Game", SyncEnabled: true}
	if err := store.Save(loaded); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if _, ok := reloaded.Games["new-game"]; !ok {
		t.Error("expected new-game to persist across Save/Load")
	}
}

func TestStore_Load_MissingFile(t *testing.T) {
	t.Parallel()
	store := config.NewStore(filepath.Join(t.TempDir(), "missing.toml"))

	_, err := store.Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want errors.Is(..., os.ErrNotExist)", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	u := testutil.StubUnsealer{}

	t.Run("local storage requires a base path", func(t *testing.T) {
		cfg := &config.Config{UseLocalStorage: true}
		if err := cfg.Validate(u); !errors.Is(err, core.ErrConfigInvalid) {
			t.Errorf("Validate() error = %v, want ErrConfigInvalid", err)
		}
	})

	t.Run("local storage with a base path is valid", func(t *testing.T) {
		cfg := &config.Config{UseLocalStorage: true, LocalBasePath: "/data"}
		if err := cfg.Validate(u); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("s3 storage requires a bucket and sealed credentials", func(t *testing.T) {
		cfg := &config.Config{UseLocalStorage: false}
		if err := cfg.Validate(u); !errors.Is(err, core.ErrConfigInvalid) {
			t.Errorf("Validate() error = %v, want ErrConfigInvalid", err)
		}

		cfg.S3Bucket = "my-bucket"
		if err := cfg.Validate(u); !errors.Is(err, core.ErrCredentialsUnavailable) {
			t.Errorf("Validate() error = %v, want ErrCredentialsUnavailable", err)
		}

		if err := cfg.SetAccessKeyID(u, "AKIA..."); err != nil {
			t.Fatalf("SetAccessKeyID() error = %v", err)
		}
		if err := cfg.SetSecretAccessKey(u, "shh"); err != nil {
			t.Fatalf("SetSecretAccessKey() error = %v", err)
		}
		if err := cfg.Validate(u); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})
}

func TestConfig_AccessKeyID_CachesUnsealedValue(t *testing.T) {
	t.Parallel()
	u := testutil.StubUnsealer{}
	cfg := &config.Config{}
	if err := cfg.SetAccessKeyID(u, "AKIAABCDEF"); err != nil {
		t.Fatalf("SetAccessKeyID() error = %v", err)
	}

	got, err := cfg.AccessKeyID(u)
	if err != nil {
		t.Fatalf("AccessKeyID() error = %v", err)
	}
	if got != "AKIAABCDEF" {
		t.Errorf("AccessKeyID() = %q, want %q", got, "AKIAABCDEF")
	}

	// A second read must come from cache, not re-unseal: corrupt the
	// sealed field in place and confirm the cached plaintext still wins.
	cfg.SealedAccessKeyID = "corrupted"
	got, err = cfg.AccessKeyID(u)
	if err != nil || got != "AKIAABCDEF" {
		t.Errorf("AccessKeyID() after corruption = (%q, %v), want cached value unaffected", got, err)
	}
}

func TestConfig_Clone_IsIndependent(t *testing.T) {
	t.Parallel()
	original := config.NewDefault("/data")
	original.Games["a"] = core.GameConfig{Name: "A", SavePaths: []string{"/a"}}

	clone := original.Clone()
	clone.Games["a"].SavePaths[0] = "/mutated"
	clone.Games["b"] = core.GameConfig{Name: "B"}

	if _, ok := original.Games["b"]; ok {
		t.Error("mutating clone.Games should not affect original.Games")
	}
	if original.Games["a"].SavePaths[0] != "/a" {
		t.Error("mutating clone's save path slice should not affect original's")
	}
}

func TestDefaultPath_HonorsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg-home")

	path, err := config.DefaultPath()
	if err != nil {
		t.Fatalf("config.DefaultPath() error = %v", err)
	}
	want := filepath.Join("/xdg-home", "decksaves", "config.toml")
	if path != want {
		t.Errorf("config.DefaultPath() = %q, want %q", path, want)
	}
}
