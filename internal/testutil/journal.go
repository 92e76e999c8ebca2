package testutil

import (
	"context"
	"errors"
	"sync"

	"edurelay/pkg/types"
)

// MemoryJournal is an interfaces.Journal kept in memory.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []*types.JournalEntry
	Fail    bool
}

func (j *MemoryJournal) Record(ctx context.Context, entry *types.JournalEntry) error {
	if j.Fail {
		return errors.New("journal unavailable")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	e := *entry
	j.entries = append(j.entries, &e)
	return nil
}

func (j *MemoryJournal) History(ctx context.Context, roomID string) ([]*types.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*types.JournalEntry, 0)
	for _, e := range j.entries {
		if e.RoomID == roomID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (j *MemoryJournal) HealthCheck(ctx context.Context) error {
	if j.Fail {
		return errors.New("journal unavailable")
	}
	return nil
}

func (j *MemoryJournal) Close() error { return nil }

// Events lists the recorded event names for roomID in order.
func (j *MemoryJournal) Events(roomID string) []string {
	entries, _ := j.History(context.Background(), roomID)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}
