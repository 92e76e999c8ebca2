package websocket

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/internal/metrics"
	"edurelay/pkg/interfaces"
	"edurelay/pkg/types"
)

// HandlerConfig holds the channel timing and sizing settings.
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	QueueSize      int
	MaxFrameSize   int64
	AllowedOrigins []string
}

// Handler upgrades HTTP requests to channels, registers them and pumps
// inbound frames to an EventSink.
type Handler struct {
	registry *Registry
	sink     interfaces.EventSink
	metrics  *metrics.Metrics
	config   HandlerConfig
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, sink interfaces.EventSink, m *metrics.Metrics, cfg HandlerConfig) *Handler {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = 64 * 1024
	}

	h := &Handler{
		registry: registry,
		sink:     sink,
		metrics:  m,
		config:   cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// HandleWebSocket upgrades the request and serves the channel until either
// side closes it.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	conn := NewConnection(ws, Options{
		QueueSize:    h.config.QueueSize,
		WriteTimeout: h.config.WriteTimeout,
		PingInterval: h.config.PingInterval,
		OnDrop:       h.metrics.Dropped,
	})

	handle, err := h.registry.Register(conn)
	if err != nil {
		logger.Error("failed to register connection", zap.Error(err))
		_ = conn.Close()
		return
	}

	logger.Info("channel opened", zap.String("handle", string(handle)), zap.String("remote", r.RemoteAddr))
	h.sink.Connected(handle)

	go h.readLoop(handle, conn)
}

// readLoop delivers frames to the sink in arrival order. When it returns,
// the sink is told exactly once that the handle is gone.
func (h *Handler) readLoop(handle types.Handle, conn *Connection) {
	defer func() {
		h.sink.Disconnected(handle)
		_ = conn.Close()
		logger.Info("channel closed", zap.String("handle", string(handle)), zap.Uint64("dropped", conn.Dropped()))
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxFrameSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("channel read error", zap.String("handle", string(handle)), zap.Error(err))
			}
			return
		}
		if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.sink.Dispatch(handle, data)
	}
}
