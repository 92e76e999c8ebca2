package websocket

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/internal/metrics"
	"edurelay/pkg/interfaces"
	"edurelay/pkg/types"
)

type entry struct {
	conn     interfaces.Connection
	retiring bool
}

// Registry maps live handles to their connections. Handles are random UUIDs
// and are forgotten on unregister, so a stale handle can never resolve to a
// newer connection.
type Registry struct {
	mu          sync.RWMutex
	connections map[types.Handle]*entry
	metrics     *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		connections: make(map[types.Handle]*entry),
		metrics:     m,
	}
}

// Register assigns a fresh handle to conn.
func (r *Registry) Register(conn interfaces.Connection) (types.Handle, error) {
	if conn == nil {
		return "", ErrNilConnection
	}

	r.mu.Lock()
	handle := types.Handle(uuid.NewString())
	for r.connections[handle] != nil {
		handle = types.Handle(uuid.NewString())
	}
	r.connections[handle] = &entry{conn: conn}
	n := len(r.connections)
	r.mu.Unlock()

	r.metrics.ConnectionOpened()
	logger.Debug("connection registered", zap.String("handle", string(handle)), zap.Int("connections", n))
	return handle, nil
}

// Lookup resolves a live handle. Retiring and unknown handles do not resolve.
func (r *Registry) Lookup(handle types.Handle) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.connections[handle]
	if !ok || e.retiring {
		return nil, false
	}
	return e.conn, true
}

func (r *Registry) IsLive(handle types.Handle) bool {
	_, ok := r.Lookup(handle)
	return ok
}

// Retire marks a handle as going away so it stops resolving while its
// bindings are swept. It returns true only for the first caller, which then
// owns the teardown of that handle.
func (r *Registry) Retire(handle types.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.connections[handle]
	if !ok || e.retiring {
		return false
	}
	e.retiring = true
	return true
}

// Unregister forgets the handle and closes its connection. It returns true
// only the first time for a given handle.
func (r *Registry) Unregister(handle types.Handle) bool {
	r.mu.Lock()
	e, ok := r.connections[handle]
	if ok {
		delete(r.connections, handle)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := e.conn.Close(); err != nil {
		logger.Debug("connection close failed", zap.String("handle", string(handle)), zap.Error(err))
	}
	r.metrics.ConnectionClosed()
	return true
}

// Count returns the number of live handles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.connections {
		if !e.retiring {
			n++
		}
	}
	return n
}

func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live, retiring := 0, 0
	for _, e := range r.connections {
		if e.retiring {
			retiring++
		} else {
			live++
		}
	}
	return map[string]int{
		"live_connections":     live,
		"retiring_connections": retiring,
	}
}

// CloseAll closes every connection without unregistering it. Each
// connection's read loop then ends and runs the normal disconnect path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, e := range r.connections {
		conns = append(conns, e.conn)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
