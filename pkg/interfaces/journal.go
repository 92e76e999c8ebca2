package interfaces

import (
	"context"

	"edurelay/pkg/types"
)

// Journal records room lifecycle events for later inspection. It is
// write-mostly and never used to restore state.
type Journal interface {
	Record(ctx context.Context, entry *types.JournalEntry) error

	// History returns a room's entries oldest first.
	History(ctx context.Context, roomID string) ([]*types.JournalEntry, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
