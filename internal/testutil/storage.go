package testutil

import (
	"decksaves/internal/core"
	"decksaves/internal/storage"
)

// NewTestStorageProvider creates a new in-memory StorageProvider for
// testing.
func NewTestStorageProvider() core.StorageProvider {
	return storage.NewMemory()
}
