package journal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edurelay/pkg/interfaces"
	"edurelay/pkg/types"
)

func openTestJournal(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(Config{Path: filepath.Join(t.TempDir(), "journal.db"), WriteTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_ImplementsJournal(t *testing.T) {
	var _ interfaces.Journal = (*Manager)(nil)
}

func TestManager_RecordAndHistory(t *testing.T) {
	m := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, m.Record(ctx, &types.JournalEntry{RoomID: "r1", Event: types.JournalRoomCreated, UserID: "teacher", CreatedAt: base}))
	require.NoError(t, m.Record(ctx, &types.JournalEntry{RoomID: "r1", Event: types.JournalParticipantJoined, UserID: "s1", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, m.Record(ctx, &types.JournalEntry{RoomID: "r2", Event: types.JournalRoomCreated, UserID: "other"}))

	history, err := m.History(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.JournalRoomCreated, history[0].Event)
	assert.Equal(t, "s1", history[1].UserID)
	assert.NotEmpty(t, history[0].ID)
	assert.True(t, history[0].CreatedAt.Equal(base))
}

func TestManager_HistoryEmptyRoom(t *testing.T) {
	m := openTestJournal(t)

	history, err := m.History(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.NotNil(t, history)
}

func TestManager_ConcurrentWrites(t *testing.T) {
	m := openTestJournal(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Record(ctx, &types.JournalEntry{RoomID: "busy", Event: types.JournalParticipantJoined}))
		}()
	}
	wg.Wait()

	history, err := m.History(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, history, 20)
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, m.HealthCheck(ctx))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.HealthCheck(ctx), ErrClosed)
	assert.ErrorIs(t, m.Record(ctx, &types.JournalEntry{RoomID: "r", Event: "x"}), ErrClosed)
}

func TestMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	first, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer second.Close()

	version, err := CurrentVersion(second.db)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)
}
