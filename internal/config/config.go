// Package config loads and saves the process-wide Config from an
// OS-appropriate per-user directory, transparently sealing and unsealing
// the remote-store credential fields via internal/crypto.
package config

import (
	"fmt"
	"sync"

	"decksaves/internal/core"
)

// Config is the root, persisted configuration.
type Config struct {
	UseLocalStorage     bool   `toml:"use_local_storage"`
	LocalBasePath       string `toml:"local_base_path"`
	S3Bucket            string `toml:"s3_bucket,omitempty"`
	S3Region            string `toml:"s3_region,omitempty"`
	SealedAccessKeyID   string `toml:"aws_access_key_id,omitempty"`
	SealedSecretKey     string `toml:"aws_secret_access_key,omitempty"`
	SyncIntervalMinutes uint   `toml:"sync_interval_minutes"`
	AutoSync            bool   `toml:"auto_sync"`
	EnableCompression   bool   `toml:"enable_compression"`

	Games map[string]core.GameConfig `toml:"games"`

	mu              sync.Mutex
	cachedAccessKey *unsealResult
	cachedSecretKey *unsealResult
}

// unsealResult caches the outcome of one unseal attempt — either a
// plaintext value or the error hit trying to get one — so repeated reads
// within a process lifetime don't re-derive the key or re-run AES-GCM.
type unsealResult struct {
	plaintext string
	err       error
}

// Unsealer is the minimal surface Config needs from CredentialCrypto —
// satisfied by *crypto.CredentialCrypto. Kept as an interface here so this
// package doesn't import crypto and tests can supply a fake.
type Unsealer interface {
	Seal(plaintext string) (string, error)
	Unseal(opaque string) (string, error)
}

// AccessKeyID returns the decrypted AWS access key id, unsealing lazily on
// first call and caching the result (success or failure). A non-nil error
// wraps core.ErrCredentialsUnavailable — it is surfaced at use time, not
// treated as a load-time failure.
func (c *Config) AccessKeyID(u Unsealer) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedAccessKey == nil {
		c.cachedAccessKey = unsealField(u, c.SealedAccessKeyID)
	}
	return c.cachedAccessKey.plaintext, c.cachedAccessKey.err
}

// SecretAccessKey returns the decrypted AWS secret access key, with the
// same lazy-unseal-and-cache behavior as AccessKeyID.
func (c *Config) SecretAccessKey(u Unsealer) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedSecretKey == nil {
		c.cachedSecretKey = unsealField(u, c.SealedSecretKey)
	}
	return c.cachedSecretKey.plaintext, c.cachedSecretKey.err
}

func unsealField(u Unsealer, sealed string) *unsealResult {
	if sealed == "" {
		return &unsealResult{err: core.ErrCredentialsUnavailable}
	}
	plaintext, err := u.Unseal(sealed)
	if err != nil {
		return &unsealResult{err: core.ErrCredentialsUnavailable}
	}
	return &unsealResult{plaintext: plaintext}
}

// SetAccessKeyID seals plaintext and stores it, invalidating the cache so
// the next read reflects the new value.
func (c *Config) SetAccessKeyID(u Unsealer, plaintext string) error {
	sealed, err := u.Seal(plaintext)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SealedAccessKeyID = sealed
	c.cachedAccessKey = nil
	return nil
}

// SetSecretAccessKey seals plaintext and stores it, invalidating the cache.
func (c *Config) SetSecretAccessKey(u Unsealer, plaintext string) error {
	sealed, err := u.Seal(plaintext)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SealedSecretKey = sealed
	c.cachedSecretKey = nil
	return nil
}

// Validate enforces the per-mode invariants from the data model: remote
// mode requires a bucket and decryptable credentials; local mode requires
// a usable base path.
func (c *Config) Validate(u Unsealer) error {
	if c.UseLocalStorage {
		if c.LocalBasePath == "" {
			return core.ErrConfigInvalid
		}
		if _, err := core.ExpandHome(c.LocalBasePath); err != nil {
			return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
		}
		return nil
	}

	if c.S3Bucket == "" {
		return core.ErrConfigInvalid
	}
	if _, err := c.AccessKeyID(u); err != nil {
		return err
	}
	if _, err := c.SecretAccessKey(u); err != nil {
		return err
	}
	return nil
}

// Clone returns a snapshot safe for a reader to hold independently of
// concurrent mutation: slices are copied and the unseal cache is reset so
// a clone never shares state with its source.
func (c *Config) Clone() *Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	games := make(map[string]core.GameConfig, len(c.Games))
	for k, v := range c.Games {
		v.SavePaths = append([]string(nil), v.SavePaths...)
		games[k] = v
	}
	return &Config{
		UseLocalStorage:     c.UseLocalStorage,
		LocalBasePath:       c.LocalBasePath,
		S3Bucket:            c.S3Bucket,
		S3Region:            c.S3Region,
		SealedAccessKeyID:   c.SealedAccessKeyID,
		SealedSecretKey:     c.SealedSecretKey,
		SyncIntervalMinutes: c.SyncIntervalMinutes,
		AutoSync:            c.AutoSync,
		EnableCompression:   c.EnableCompression,
		Games:               games,
	}
}

// NewDefault returns a seeded Config for first-run initialization: local
// storage under baseDir, no games configured yet.
func NewDefault(baseDir string) *Config {
	return &Config{
		UseLocalStorage:     true,
		LocalBasePath:       baseDir,
		SyncIntervalMinutes: 15,
		AutoSync:            false,
		EnableCompression:   false,
		Games:               map[string]core.GameConfig{},
	}
}
