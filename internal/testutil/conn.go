// Package testutil provides in-memory stand-ins used by package tests.
package testutil

import (
	"encoding/json"
	"sync"
	"testing"

	"edurelay/pkg/types"
)

// RecordingConn is an interfaces.Connection that keeps every frame it is
// given.
type RecordingConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *RecordingConn) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return true
}

func (c *RecordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *RecordingConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Envelopes decodes every recorded frame.
func (c *RecordingConn) Envelopes(t testing.TB) []types.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env types.Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("undecodable frame %q: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

// OfType returns the recorded envelopes whose type is typ.
func (c *RecordingConn) OfType(t testing.TB, typ string) []types.Envelope {
	t.Helper()
	var out []types.Envelope
	for _, env := range c.Envelopes(t) {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (c *RecordingConn) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
