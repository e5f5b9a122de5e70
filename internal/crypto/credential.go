// Package crypto implements CredentialCrypto: machine/user-bound
// AES-256-GCM sealing of the short secret strings (remote-store access
// key and secret) that ConfigStore writes into the TOML config file.
//
// The key is derived deterministically from the host and user identity, so
// there is no master key to manage and no passphrase prompt — but it also
// means sealed output is only ever unsealable on the machine and account
// that sealed it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"decksaves/internal/core"
)

const keyDomainSeparator = "decksaves_crypto_v1"

const nonceSize = 12 // 96 bits, per AES-GCM

// CredentialCrypto seals and unseals secret strings with a key derived
// from the current host and user. Stateless — New just
// captures the environment lookups so tests can override them.
type CredentialCrypto struct {
	hostname func() string
	username func() string
}

// New creates a CredentialCrypto using the real environment (HOSTNAME /
// COMPUTERNAME, USER / USERNAME, with documented empty-string fallbacks).
func New() *CredentialCrypto {
	return &CredentialCrypto{
		hostname: envHostname,
		username: envUsername,
	}
}

// newWithEnv is used by tests to simulate a different host/user identity
// without touching process environment variables.
func newWithEnv(hostname, username string) *CredentialCrypto {
	return &CredentialCrypto{
		hostname: func() string { return hostname },
		username: func() string { return username },
	}
}

func envHostname() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	return os.Getenv("COMPUTERNAME")
}

func envUsername() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

func (c *CredentialCrypto) deriveKey() []byte {
	h := sha256.New()
	h.Write([]byte(keyDomainSeparator))
	h.Write([]byte(c.hostname()))
	h.Write([]byte(c.username()))
	return h.Sum(nil)
}

func (c *CredentialCrypto) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.deriveKey())
	if err != nil {
		return nil, fmt.Errorf("constructing AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns an opaque base64 string:
// base64(nonce || ciphertext-with-tag). Non-deterministic — repeated calls
// with the same plaintext yield distinct output because the nonce is
// random.
func (c *CredentialCrypto) Seal(plaintext string) (string, error) {
	aead, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	out := append(nonce, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Unseal decrypts an opaque string produced by Seal on this same host and
// user. Returns core.ErrAuthenticationFailed if the GCM tag doesn't
// validate (wrong machine/user, or tampering) and core.ErrMalformedInput
// if the input isn't valid base64 or is too short to hold a nonce and tag.
func (c *CredentialCrypto) Unseal(opaque string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrMalformedInput, err)
	}

	aead, err := c.gcm()
	if err != nil {
		return "", err
	}

	if len(raw) < nonceSize+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", core.ErrMalformedInput)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w", core.ErrAuthenticationFailed)
	}
	return string(plaintext), nil
}
