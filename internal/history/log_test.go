package history

import (
	"context"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestLog_StartAndFinish(t *testing.T) {
	t.Parallel()
	log := newTestLog(t)
	ctx := context.Background()
	started := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	id, err := log.Start(ctx, "stardew-valley", "sync", "", started)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id == 0 {
		t.Fatalf("Start() returned zero id")
	}

	finished := started.Add(5 * time.Second)
	if err := log.Finish(ctx, id, "completed", finished); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	ops, err := log.List(ctx, "stardew-valley", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}
	if ops[0].Status != "completed" {
		t.Errorf("Status = %q, want %q", ops[0].Status, "completed")
	}
	if !ops[0].FinishedAt.Valid {
		t.Error("expected FinishedAt to be valid after Finish()")
	}
}

func TestLog_List_OrdersNewestFirstAndFiltersByGame(t *testing.T) {
	t.Parallel()
	log := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	if _, err := log.Start(ctx, "stardew-valley", "sync", "", base); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := log.Start(ctx, "hollow-knight", "sync", "", base.Add(time.Minute)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := log.Start(ctx, "stardew-valley", "restore", "", base.Add(2*time.Minute)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ops, err := log.List(ctx, "stardew-valley", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations for stardew-valley, got %d", len(ops))
	}
	if ops[0].Kind != "restore" {
		t.Errorf("expected newest-first ordering, got kind %q first", ops[0].Kind)
	}

	all, err := log.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 operations across all games, got %d", len(all))
	}
}

func TestLog_List_RespectsLimit(t *testing.T) {
	t.Parallel()
	log := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if _, err := log.Start(ctx, "stardew-valley", "sync", "", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}

	ops, err := log.List(ctx, "stardew-valley", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}
}

func TestNewRunID_ProducesDistinctIDs(t *testing.T) {
	t.Parallel()
	a := NewRunID()
	b := NewRunID()
	if a == "" || b == "" {
		t.Fatal("NewRunID() returned empty string")
	}
	if a == b {
		t.Error("NewRunID() returned duplicate ids")
	}
}
