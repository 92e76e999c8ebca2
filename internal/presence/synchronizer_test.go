package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edurelay/internal/relay"
	"edurelay/internal/rooms"
	"edurelay/internal/roster"
	"edurelay/internal/testutil"
	"edurelay/internal/websocket"
	"edurelay/pkg/types"
)

type fixture struct {
	sync     *Synchronizer
	registry *websocket.Registry
	roster   *roster.Roster
	store    *rooms.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := rooms.NewStore(nil, nil)
	rs := roster.New(store, nil)
	registry := websocket.NewRegistry(nil)
	rl := relay.New(registry, rs, nil)
	return &fixture{
		sync:     New(cfg, registry, rs, rl, nil),
		registry: registry,
		roster:   rs,
		store:    store,
	}
}

func (f *fixture) room(t *testing.T) string {
	t.Helper()
	room, err := f.store.CreateRoom(context.Background(), rooms.CreateRoomParams{CreatorID: "t", CreatorRole: types.RoleTeacher, Name: "Room"})
	require.NoError(t, err)
	return room.ID
}

func (f *fixture) connect(t *testing.T) (types.Handle, *testutil.RecordingConn) {
	t.Helper()
	conn := &testutil.RecordingConn{}
	h, err := f.registry.Register(conn)
	require.NoError(t, err)
	return h, conn
}

func (f *fixture) joinBound(t *testing.T, roomID, userID string, h types.Handle) {
	t.Helper()
	_, _, err := f.roster.Join(context.Background(), roomID, userID, userID, types.RoleStudent)
	require.NoError(t, err)
	_, ok := f.roster.Bind(roomID, userID, h)
	require.True(t, ok)
}

func TestSynchronizer_DisconnectClearsBindingsAndNotifies(t *testing.T) {
	f := newFixture(t, Config{})
	r1, r2 := f.room(t), f.room(t)

	dead, deadConn := f.connect(t)
	alive, aliveConn := f.connect(t)
	f.joinBound(t, r1, "leaver", dead)
	f.joinBound(t, r2, "leaver", dead)
	f.joinBound(t, r1, "stayer", alive)

	cleared := f.sync.Disconnect(dead)
	assert.Equal(t, 2, cleared)

	assert.False(t, f.registry.IsLive(dead))
	assert.True(t, deadConn.Closed())
	assert.Len(t, f.roster.Snapshot(r1), 2, "disconnect removes no participant")
	assert.Len(t, f.roster.Snapshot(r2), 1)

	leaver, ok := f.roster.Get(r1, "leaver")
	require.True(t, ok)
	assert.Nil(t, leaver.Handle)
	stayer, _ := f.roster.Get(r1, "stayer")
	require.NotNil(t, stayer.Handle)
	assert.Equal(t, alive, *stayer.Handle)

	notices := aliveConn.OfType(t, types.EventParticipantDisconnected)
	require.Len(t, notices, 1, "only rooms containing a binding to the dead handle are notified")
	assert.Equal(t, "leaver", notices[0].Participant.UserID)
	assert.Equal(t, 0, deadConn.Len())
}

func TestSynchronizer_DisconnectIsEffectiveOnce(t *testing.T) {
	f := newFixture(t, Config{})
	r1 := f.room(t)
	dead, _ := f.connect(t)
	watcherHandle, watcher := f.connect(t)
	f.joinBound(t, r1, "a", dead)
	f.joinBound(t, r1, "w", watcherHandle)

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.sync.Disconnect(dead)
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range results {
		total += n
	}
	assert.Equal(t, 1, total)
	assert.Len(t, watcher.OfType(t, types.EventParticipantDisconnected), 1)
	assert.Equal(t, 0, f.sync.Disconnect("never-issued"))
}

func TestSynchronizer_DisconnectUnboundHandle(t *testing.T) {
	f := newFixture(t, Config{})
	h, conn := f.connect(t)

	assert.Equal(t, 0, f.sync.Disconnect(h))
	assert.False(t, f.registry.IsLive(h))
	assert.True(t, conn.Closed())
}

func TestSynchronizer_ParticipantCanRebindAfterDisconnect(t *testing.T) {
	f := newFixture(t, Config{})
	r1 := f.room(t)
	old, _ := f.connect(t)
	f.joinBound(t, r1, "a", old)

	f.sync.Disconnect(old)

	fresh, _ := f.connect(t)
	p, ok := f.roster.Bind(r1, "a", fresh)
	require.True(t, ok)
	assert.Equal(t, fresh, *p.Handle)
}

func TestSynchronizer_StartStop(t *testing.T) {
	f := newFixture(t, Config{PruneSchedule: "@every 1h", StaleAfter: time.Minute})

	require.NoError(t, f.sync.Start(context.Background()))
	assert.ErrorIs(t, f.sync.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, f.sync.Stop())
	assert.ErrorIs(t, f.sync.Stop(), ErrNotRunning)
}

func TestSynchronizer_StartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, Config{PruneSchedule: "not a schedule", StaleAfter: time.Minute})
	assert.Error(t, f.sync.Start(context.Background()))
}

func TestSynchronizer_PruneDisabled(t *testing.T) {
	f := newFixture(t, Config{})
	r1 := f.room(t)
	_, _, err := f.roster.Join(context.Background(), r1, "ghost", "", types.RoleStudent)
	require.NoError(t, err)

	require.NoError(t, f.sync.Start(context.Background()))
	defer f.sync.Stop()
	assert.Equal(t, 0, f.sync.Prune(context.Background()))
	assert.Len(t, f.roster.Snapshot(r1), 1)
}

func TestSynchronizer_ScheduledPrune(t *testing.T) {
	f := newFixture(t, Config{PruneSchedule: "@every 1s", StaleAfter: time.Nanosecond})
	r1 := f.room(t)
	_, _, err := f.roster.Join(context.Background(), r1, "ghost", "", types.RoleStudent)
	require.NoError(t, err)
	h, _ := f.connect(t)
	f.joinBound(t, r1, "present", h)

	require.NoError(t, f.sync.Start(context.Background()))
	defer f.sync.Stop()

	require.Eventually(t, func() bool {
		return len(f.roster.Snapshot(r1)) == 1
	}, 5*time.Second, 50*time.Millisecond)

	remaining := f.roster.Snapshot(r1)
	assert.Equal(t, "present", remaining[0].UserID, "bound participants are never pruned")
}
