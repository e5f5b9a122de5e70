package core

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so version timestamps and retention
// windows are deterministic under test.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time, always in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator abstracts unique ID generation for watch registrations and
// operation log rows, so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
