package core

import "errors"

// Error kinds in the sync engine's taxonomy. Each is a sentinel wrapped by
// fmt.Errorf("...: %w", ErrXxx) at the call site so callers can match with
// errors.Is while still getting a human-readable detail in the message.
var (
	// ErrConfigInvalid means a required config field is missing or malformed.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrCredentialsUnavailable means sealed credentials could not be
	// unsealed on this machine (wrong host/user, or corruption).
	ErrCredentialsUnavailable = errors.New("credentials unavailable")

	// ErrStorageTransient is a retryable transport failure. The S3 provider
	// retries internally; it only escalates to the caller after exhausting
	// its retry budget.
	ErrStorageTransient = errors.New("storage transient failure")

	// ErrStorageAuthFailed means the remote rejected credentials.
	ErrStorageAuthFailed = errors.New("storage auth failed")

	// ErrStoragePermissionDenied means a key-level 403 or filesystem EACCES.
	ErrStoragePermissionDenied = errors.New("storage permission denied")

	// ErrNotFound means a key or local file is absent. Callers decide
	// whether this is fatal (restore) or ignorable (cleanup delete).
	ErrNotFound = errors.New("not found")

	// ErrIntegrityViolation means a post-download hash did not match the
	// manifest entry. The run aborts for that file; the local file is
	// never overwritten.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrConcurrentUpdate means the remote manifest shifted under us twice.
	ErrConcurrentUpdate = errors.New("concurrent update")

	// ErrBusy means a single-flight lock for this game is already held.
	ErrBusy = errors.New("sync already in progress")

	// ErrCancelled means the caller's context was cancelled mid-operation.
	// Not logged as an error by callers that check for it explicitly.
	ErrCancelled = errors.New("cancelled")

	// ErrInternal marks an invariant violation — a bug, not an environment
	// or input problem.
	ErrInternal = errors.New("internal error")
)

// ErrAuthenticationFailed is returned by CredentialCrypto.Unseal when the GCM
// tag fails to validate: wrong machine/user or the ciphertext was tampered
// with.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrMalformedInput is returned by CredentialCrypto.Unseal when the opaque
// string isn't valid base64 or is too short to contain a nonce and tag.
var ErrMalformedInput = errors.New("malformed input")

// ErrUnknownVersion means a restore targeted a versionId absent from the
// manifest.
var ErrUnknownVersion = errors.New("unknown version")
