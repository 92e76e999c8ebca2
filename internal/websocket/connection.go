package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Options tune a Connection. Zero values fall back to the defaults below.
type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// OnDrop is called each time a queued frame is discarded to make room.
	OnDrop func()
}

const (
	defaultQueueSize    = 100
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Connection wraps one gorilla connection. Only the writer goroutine writes
// to the socket; everyone else hands it frames through a bounded queue.
// When the queue is full the oldest queued frame is discarded so Enqueue
// never blocks the caller.
type Connection struct {
	conn  *websocket.Conn
	queue chan []byte
	// enqueueMu makes the drop-oldest step atomic with the push that
	// follows it.
	enqueueMu sync.Mutex
	dropped   atomic.Uint64
	onDrop    func()

	writeTimeout time.Duration
	pingInterval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	sockOnce  sync.Once
	sockErr   error
	done      chan struct{}
}

// NewConnection wraps conn and starts its writer. A nil conn gives a
// queue-only connection, which is useful in tests.
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		queue:        make(chan []byte, opts.QueueSize),
		onDrop:       opts.OnDrop,
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	if conn != nil {
		go c.writeLoop()
	} else {
		close(c.done)
	}
	return c
}

func (c *Connection) writeLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.queue:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.shutdown()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.shutdown()
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// Enqueue queues frame for delivery. If the queue is full the oldest queued
// frame is discarded first. It returns false only when the connection is
// closed.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()

	for {
		select {
		case c.queue <- frame:
			return true
		default:
		}

		select {
		case <-c.queue:
			c.dropped.Add(1)
			if c.onDrop != nil {
				c.onDrop()
			}
		default:
		}
	}
}

// Dropped is the number of frames discarded because the queue was full.
func (c *Connection) Dropped() uint64 {
	return c.dropped.Load()
}

// Pending is the number of frames waiting for the writer.
func (c *Connection) Pending() int {
	return len(c.queue)
}

// Done is closed once the writer has stopped.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// shutdown is used by the writer after a failed write. Closing the socket
// also unblocks the reader so the connection is torn down promptly.
func (c *Connection) shutdown() {
	c.cancel()
	c.closeSocket()
}

func (c *Connection) closeSocket() error {
	c.sockOnce.Do(func() {
		c.sockErr = c.conn.Close()
	})
	return c.sockErr
}

// Close stops the writer and closes the socket. It is safe to call more
// than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			<-c.done
			err = c.closeSocket()
		}
	})
	return err
}
