package engine

import (
	"context"
	"fmt"

	"decksaves/internal/history"
)

// RecentOperations returns the most recent recorded sync/restore
// operations for game (every game if game is empty), newest first. It
// backs future CLI/UI surfaces; the operation log is never consulted to
// decide sync behavior. Returns an empty slice, not an error, if no
// operation log was configured via Options.HistoryPath.
func (f *Facade) RecentOperations(ctx context.Context, game string, limit int) ([]history.Operation, error) {
	if f.history == nil {
		return nil, nil
	}
	ops, err := f.history.List(ctx, game, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent operations: %w", err)
	}
	return ops, nil
}
