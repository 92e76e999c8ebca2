// Package presence keeps participant bindings in step with live
// connections.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/internal/metrics"
	"edurelay/pkg/types"
)

var (
	ErrAlreadyRunning = errors.New("presence synchronizer is already running")
	ErrNotRunning     = errors.New("presence synchronizer is not running")
)

// Registry is the part of the connection registry used during teardown.
type Registry interface {
	Retire(handle types.Handle) bool
	Unregister(handle types.Handle) bool
}

// Roster is the part of the participant roster used here.
type Roster interface {
	ClearHandle(handle types.Handle) []types.Participant
	PruneStale(ctx context.Context, olderThan time.Duration) int
}

// Notifier announces departures to the remaining participants.
type Notifier interface {
	NotifyDisconnected(p types.Participant) int
}

type Config struct {
	// PruneSchedule is a cron spec such as "@every 1m".
	PruneSchedule string
	// StaleAfter is how long a participant may stay unbound. Zero disables
	// pruning.
	StaleAfter time.Duration
}

type Synchronizer struct {
	registry Registry
	roster   Roster
	notifier Notifier
	metrics  *metrics.Metrics
	config   Config

	cron    *cron.Cron
	running bool
	mu      sync.Mutex
}

func New(cfg Config, registry Registry, roster Roster, notifier Notifier, m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{
		registry: registry,
		roster:   roster,
		notifier: notifier,
		metrics:  m,
		config:   cfg,
	}
}

// Disconnect tears down handle: its bindings are cleared in every room, a
// participant-disconnected notice goes to each affected room, and only then
// is the handle unregistered. Participants stay in their rooms. Only the
// first call for a handle does anything; it returns the number of bindings
// cleared.
func (s *Synchronizer) Disconnect(handle types.Handle) int {
	if !s.registry.Retire(handle) {
		return 0
	}

	affected := s.roster.ClearHandle(handle)
	for _, p := range affected {
		s.notifier.NotifyDisconnected(p)
		logger.Info("participant disconnected",
			zap.String("room_id", p.RoomID),
			zap.String("user_id", p.UserID),
			zap.String("handle", string(handle)))
	}

	s.registry.Unregister(handle)
	s.metrics.Disconnected()
	return len(affected)
}

// Prune removes participants unbound for longer than StaleAfter.
func (s *Synchronizer) Prune(ctx context.Context) int {
	n := s.roster.PruneStale(ctx, s.config.StaleAfter)
	if n > 0 {
		s.metrics.Pruned(n)
		logger.Info("pruned stale participants", zap.Int("count", n), zap.Duration("stale_after", s.config.StaleAfter))
	}
	return n
}

// Start schedules the prune job. With pruning disabled it only marks the
// synchronizer as running.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	if s.config.StaleAfter > 0 {
		c := cron.New()
		if _, err := c.AddFunc(s.config.PruneSchedule, func() { s.Prune(ctx) }); err != nil {
			return err
		}
		c.Start()
		s.cron = c
		logger.Info("presence prune job scheduled",
			zap.String("schedule", s.config.PruneSchedule),
			zap.Duration("stale_after", s.config.StaleAfter))
	}

	s.running = true
	return nil
}

// Stop cancels the prune job and waits for a running prune to finish.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	s.running = false
	return nil
}
