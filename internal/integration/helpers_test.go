package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"edurelay/internal/app"
	"edurelay/internal/config"
	"edurelay/pkg/types"
)

const readTimeout = 5 * time.Second

type server struct {
	app  *app.Application
	base string
	ws   string
}

func startServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	a, err := app.NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})

	return &server{app: a, base: "http://" + a.GetAddr(), ws: "ws://" + a.GetAddr() + "/ws"}
}

func (s *server) request(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, s.base+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *server) createRoom(t *testing.T, creator string) string {
	t.Helper()
	var resp struct {
		Room types.Room `json:"room"`
	}
	code := s.request(t, http.MethodPost, "/api/rooms", map[string]string{
		"creatorId": creator, "creatorRole": "teacher", "name": "Biology",
	}, &resp)
	require.Equal(t, http.StatusCreated, code)
	return resp.Room.ID
}

func (s *server) participants(t *testing.T, roomID string) []types.Participant {
	t.Helper()
	var resp struct {
		Participants []types.Participant `json:"participants"`
	}
	require.Equal(t, http.StatusOK, s.request(t, http.MethodGet, "/api/rooms/"+roomID, nil, &resp))
	return resp.Participants
}

type client struct {
	t      *testing.T
	conn   *websocket.Conn
	handle types.Handle
}

// dial opens a channel and consumes the welcome envelope.
func (s *server) dial(t *testing.T) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.ws, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &client{t: t, conn: conn}
	welcome := c.waitFor(types.EventConnected)
	require.NotEmpty(t, welcome.From)
	c.handle = welcome.From
	return c
}

func (c *client) send(typ string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(types.InboundEvent{Type: typ, Data: raw}))
}

func (c *client) join(roomID, userID string, role types.Role) []types.Participant {
	c.t.Helper()
	c.send(types.EventJoinRoom, types.JoinRoomEvent{RoomID: roomID, UserID: userID, UserName: userID, UserType: role})
	return c.waitFor(types.EventParticipantsList).Participants
}

// waitFor reads until an envelope of type typ arrives, discarding others.
func (c *client) waitFor(typ string) types.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(readTimeout)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var env types.Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env), "waiting for %s", typ)
		if env.Type == typ {
			return env
		}
	}
}

// expectNone fails if an envelope of type typ arrives within d. A read
// timeout leaves the connection unusable, so this must be the last read.
func (c *client) expectNone(typ string, d time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(d)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var env types.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Type == typ {
			c.t.Fatalf("unexpected %s envelope from %s", typ, env.From)
		}
	}
}
