package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"decksaves/internal/core"
)

// Manager handles encoding and decoding Config to and from TOML.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Store owns the on-disk TOML config file at path. Writes are serialized
// through a single mutex and committed with a temp-file-then-rename so a
// concurrent reader never observes a partially written file; each Load
// decodes a fresh Config from disk, so a caller holding one is
// unaffected by a later Save from another goroutine.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store bound to path. It does not touch disk.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file path this Store was constructed with.
func (s *Store) Path() string {
	return s.path
}

// Load reads and decodes the config file. Returns an error wrapping
// os.ErrNotExist if the file doesn't exist yet — callers distinguish
// "needs Init" from other failures via errors.Is(err, os.ErrNotExist).
func (s *Store) Load() (*Config, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening config %s: %w", s.path, err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", s.path, err)
	}
	if cfg.Games == nil {
		cfg.Games = map[string]core.GameConfig{}
	}
	return cfg, nil
}

// Save atomically replaces the config file's contents with cfg: encode to
// a temp file in the same directory, fsync, then rename over the target.
// The rename is atomic on the same filesystem, so a reader never sees a
// half-written file regardless of when it opens the path.
func (s *Store) Save(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	m := &Manager{}
	if err := m.Write(tmp, cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing config to %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming config into place at %s: %w", s.path, err)
	}
	return nil
}

// Init writes cfg to path only if no config file exists there yet.
func (s *Store) Init(cfg *Config) error {
	if _, err := os.Stat(s.path); err == nil {
		return fmt.Errorf("config file already exists at %s", s.path)
	}
	if err := s.Save(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// DefaultPath returns the OS-appropriate per-user config file path:
// $XDG_CONFIG_HOME/decksaves/config.toml, falling back to
// os.UserConfigDir() (which on Windows and macOS already resolves to the
// platform-conventional per-user application-settings directory).
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "decksaves", "config.toml"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config directory: %w", err)
	}
	return filepath.Join(dir, "decksaves", "config.toml"), nil
}
