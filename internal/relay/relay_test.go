package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edurelay/internal/rooms"
	"edurelay/internal/roster"
	"edurelay/internal/testutil"
	"edurelay/internal/websocket"
	"edurelay/pkg/types"
)

type fixture struct {
	relay    *Relay
	registry *websocket.Registry
	roster   *roster.Roster
	roomID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := rooms.NewStore(nil, nil)
	rs := roster.New(store, nil)
	registry := websocket.NewRegistry(nil)

	room, err := store.CreateRoom(context.Background(), rooms.CreateRoomParams{CreatorID: "t1", CreatorRole: types.RoleTeacher, Name: "Biology"})
	require.NoError(t, err)

	return &fixture{relay: New(registry, rs, nil), registry: registry, roster: rs, roomID: room.ID}
}

// member joins userID and binds a fresh recording connection.
func (f *fixture) member(t *testing.T, userID string) (types.Handle, *testutil.RecordingConn) {
	t.Helper()
	conn := &testutil.RecordingConn{}
	h, err := f.registry.Register(conn)
	require.NoError(t, err)
	_, _, err = f.roster.Join(context.Background(), f.roomID, userID, userID, types.RoleStudent)
	require.NoError(t, err)
	_, ok := f.roster.Bind(f.roomID, userID, h)
	require.True(t, ok)
	return h, conn
}

func TestRelay_SendToLiveHandle(t *testing.T) {
	f := newFixture(t)
	h, conn := f.member(t, "a")

	ok := f.relay.SendTo(h, &types.Envelope{Type: types.EventOffer, Payload: json.RawMessage(`{"sdp":"x"}`)})
	assert.True(t, ok)

	envs := conn.Envelopes(t)
	require.Len(t, envs, 1)
	assert.JSONEq(t, `{"sdp":"x"}`, string(envs[0].Payload))
	assert.False(t, envs[0].Timestamp.IsZero())
}

func TestRelay_SendToDeadHandleIsDropped(t *testing.T) {
	f := newFixture(t)
	h, conn := f.member(t, "a")
	f.registry.Unregister(h)

	assert.False(t, f.relay.SendTo(h, &types.Envelope{Type: types.EventOffer}))
	assert.False(t, f.relay.SendTo("never-issued", &types.Envelope{Type: types.EventOffer}))
	assert.False(t, f.relay.SendTo("", &types.Envelope{Type: types.EventOffer}))
	assert.Equal(t, 0, conn.Len())
}

func TestRelay_BroadcastExcludesSender(t *testing.T) {
	f := newFixture(t)
	ha, ca := f.member(t, "a")
	_, cb := f.member(t, "b")
	_, cc := f.member(t, "c")

	n := f.relay.BroadcastRoom(f.roomID, ha, &types.Envelope{Type: types.EventScreenShareStart})
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, ca.Len(), "sender never receives its own broadcast")
	assert.Equal(t, 1, cb.Len())
	assert.Equal(t, 1, cc.Len())
}

func TestRelay_BroadcastSkipsUnboundAndDeadHandles(t *testing.T) {
	f := newFixture(t)
	ha, _ := f.member(t, "a")
	hb, cb := f.member(t, "b")
	_, cc := f.member(t, "c")
	_, _, err := f.roster.Join(context.Background(), f.roomID, "unbound", "", types.RoleStudent)
	require.NoError(t, err)

	f.registry.Retire(hb)

	n := f.relay.BroadcastRoom(f.roomID, ha, &types.Envelope{Type: types.EventChatMessage})
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, cb.Len(), "retiring handle never resolved")
	assert.Equal(t, 1, cc.Len())
}

func TestRelay_BroadcastDeduplicatesSharedHandle(t *testing.T) {
	f := newFixture(t)
	h, conn := f.member(t, "a")
	_, _, err := f.roster.Join(context.Background(), f.roomID, "a-second-tab", "", types.RoleStudent)
	require.NoError(t, err)
	f.roster.Bind(f.roomID, "a-second-tab", h)

	assert.Equal(t, 1, f.relay.BroadcastRoom(f.roomID, "", &types.Envelope{Type: types.EventChatMessage}))
	assert.Equal(t, 1, conn.Len())
}

func TestRelay_BroadcastUnknownRoom(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 0, f.relay.BroadcastRoom("missing", "", &types.Envelope{Type: types.EventChatMessage}))
}

func TestRelay_SignalTargetedOrBroadcast(t *testing.T) {
	f := newFixture(t)
	ha, ca := f.member(t, "a")
	hb, cb := f.member(t, "b")
	_, cc := f.member(t, "c")

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	n := f.relay.Signal(types.EventOffer, ha, &types.SignalEvent{TargetHandle: hb, Payload: payload, SenderInfo: json.RawMessage(`{"userId":"a"}`)})
	assert.Equal(t, 1, n)

	offers := cb.OfType(t, types.EventOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, ha, offers[0].From)
	assert.JSONEq(t, string(payload), string(offers[0].Payload))
	assert.JSONEq(t, `{"userId":"a"}`, string(offers[0].Sender))
	assert.Equal(t, 0, cc.Len(), "targeted signal reaches only the target")
	assert.Equal(t, 0, ca.Len())

	n = f.relay.Signal(types.EventICECandidate, ha, &types.SignalEvent{RoomID: f.roomID, Payload: json.RawMessage(`{"candidate":"c"}`)})
	assert.Equal(t, 2, n)
	assert.Len(t, cc.OfType(t, types.EventICECandidate), 1)
}

func TestRelay_ChatStampsServerTime(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	f.relay.now = func() time.Time { return fixed }

	ha, _ := f.member(t, "a")
	_, cb := f.member(t, "b")

	f.relay.Chat(ha, &types.ChatMessageEvent{RoomID: f.roomID, Message: json.RawMessage(`{"text":"hi","timestamp":"client-lies"}`)})

	chats := cb.OfType(t, types.EventChatMessage)
	require.Len(t, chats, 1)
	assert.True(t, chats[0].Timestamp.Equal(fixed))
	assert.JSONEq(t, `{"text":"hi","timestamp":"client-lies"}`, string(chats[0].Payload), "payload untouched")
}

func TestRelay_NotifyRemoval(t *testing.T) {
	f := newFixture(t)
	hTeacher, cTeacher := f.member(t, "teacher")
	hTarget, cTarget := f.member(t, "target")
	_, cOther := f.member(t, "other")

	reached := f.relay.NotifyRemoval(Removal{
		RoomID:          f.roomID,
		Target:          hTarget,
		By:              hTeacher,
		ParticipantInfo: json.RawMessage(`{"userId":"target"}`),
		RemoverInfo:     json.RawMessage(`{"userId":"teacher"}`),
	})
	assert.True(t, reached)

	assert.Len(t, cTarget.OfType(t, types.EventRemovedFromRoom), 1)
	assert.Empty(t, cTarget.OfType(t, types.EventParticipantRemoved), "target gets only the targeted notice")
	assert.Len(t, cOther.OfType(t, types.EventParticipantRemoved), 1)
	assert.Equal(t, 0, cTeacher.Len())
}

func TestRelay_NotifyDisconnectedHidesDeadHandle(t *testing.T) {
	f := newFixture(t)
	ha, _ := f.member(t, "a")
	_, cb := f.member(t, "b")

	affected := f.roster.ClearHandle(ha)
	require.Len(t, affected, 1)
	f.relay.NotifyDisconnected(affected[0])

	notices := cb.OfType(t, types.EventParticipantDisconnected)
	require.Len(t, notices, 1)
	require.NotNil(t, notices[0].Participant)
	assert.Equal(t, "a", notices[0].Participant.UserID)
	assert.Nil(t, notices[0].Participant.Handle)
	assert.Equal(t, ha, notices[0].From)
}

func TestRelay_SendParticipantsAndError(t *testing.T) {
	f := newFixture(t)
	h, conn := f.member(t, "a")

	assert.True(t, f.relay.SendParticipants(h, f.roomID, f.roster.Snapshot(f.roomID)))
	assert.True(t, f.relay.SendError(h, f.roomID, "room is inactive"))
	assert.True(t, f.relay.Welcome(h))

	envs := conn.Envelopes(t)
	require.Len(t, envs, 3)
	assert.Equal(t, types.EventParticipantsList, envs[0].Type)
	assert.Len(t, envs[0].Participants, 1)
	assert.Equal(t, types.EventError, envs[1].Type)
	assert.Equal(t, "room is inactive", envs[1].Message)
	assert.Equal(t, h, envs[2].From)
}
