// Package api is the HTTP request surface: room management over REST plus
// the health, metrics and channel upgrade endpoints.
package api

import (
	"context"
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/internal/metrics"
	"edurelay/internal/relay"
	"edurelay/internal/rooms"
	"edurelay/internal/roster"
	"edurelay/pkg/interfaces"
	"edurelay/pkg/types"
)

// Registry is the part of websocket.Registry the API reads.
type Registry interface {
	IsLive(handle types.Handle) bool
	GetStats() map[string]int
}

// Dependencies are the components a Server routes requests to. Journal may
// be nil when the journal is disabled.
type Dependencies struct {
	Rooms          *rooms.Store
	Roster         *roster.Roster
	Relay          *relay.Relay
	Registry       Registry
	Journal        interfaces.Journal
	Metrics        *metrics.Metrics
	WebSocket      http.HandlerFunc
	ICEServers     []webrtc.ICEServer
	AllowedOrigins []string
}

// Server holds no state of its own; every handler reads and writes through
// the injected components.
type Server struct {
	deps      Dependencies
	router    *gin.Engine
	startedAt time.Time
}

func NewServer(deps Dependencies) *Server {
	if deps.ICEServers == nil {
		deps.ICEServers = []webrtc.ICEServer{}
	}

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	s := &Server{
		deps:      deps,
		router:    router,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), requestLogger(), s.corsMiddleware())

	api := s.router.Group("/api")
	{
		api.POST("/rooms", s.createRoom)
		api.GET("/rooms", s.listRooms)
		api.GET("/rooms/:id", s.getRoom)
		api.DELETE("/rooms/:id", s.deactivateRoom)
		api.POST("/rooms/:id/join", s.joinRoom)
		api.POST("/rooms/:id/leave", s.leaveRoom)
		api.POST("/rooms/:id/remove", s.removeParticipant)
		api.POST("/rooms/:id/deactivate", s.deactivateRoom)
		api.GET("/rooms/:id/history", s.roomHistory)
		api.GET("/ice-servers", s.iceServers)
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	if s.deps.WebSocket != nil {
		s.router.GET("/ws", gin.WrapF(s.deps.WebSocket))
	}
	s.router.NoRoute(func(c *gin.Context) {
		sendError(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Journal     string         `json:"journal"`
	Connections map[string]int `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
	System      map[string]any `json:"system"`
}

// healthCheck reports 503 only when an enabled journal is unreachable.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	journalStatus := "disabled"
	if s.deps.Journal != nil {
		journalStatus = "healthy"
		if err := s.deps.Journal.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			journalStatus = "error: " + err.Error()
		}
	}

	total, active := s.deps.Rooms.Count()
	rosterRooms, participants := s.deps.Roster.Count()

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Journal:     journalStatus,
		Connections: s.deps.Registry.GetStats(),
		Rooms: map[string]int{
			"total":        total,
			"active":       active,
			"occupied":     rosterRooms,
			"participants": participants,
		},
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

func (s *Server) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": s.deps.ICEServers})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowAll := len(s.deps.AllowedOrigins) == 0 || slices.Contains(s.deps.AllowedOrigins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.deps.AllowedOrigins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// The upgrade endpoint lives for the whole channel; it logs itself.
		if c.FullPath() == "/ws" {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
