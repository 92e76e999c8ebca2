// Package rooms owns the in-memory set of rooms.
package rooms

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/internal/metrics"
	"edurelay/pkg/interfaces"
	"edurelay/pkg/types"
)

// CreateRoomParams are the caller supplied fields of a new room.
type CreateRoomParams struct {
	CreatorID   string
	CreatorRole types.Role
	Name        string
	Subject     string
	Chapter     string
	Topic       string
}

// Store holds every room created since start-up. Rooms are never removed,
// only deactivated, so ids stay resolvable for the life of the process.
type Store struct {
	journal interfaces.Journal
	metrics *metrics.Metrics

	rooms        map[string]*types.Room
	onDeactivate []func(roomID string)
	entropy      *ulid.MonotonicEntropy
	now          func() time.Time
	mu           sync.RWMutex
}

// NewStore creates an empty store. journal and m may be nil.
func NewStore(journal interfaces.Journal, m *metrics.Metrics) *Store {
	return &Store{
		journal: journal,
		metrics: m,
		rooms:   make(map[string]*types.Room),
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// OnDeactivate registers fn to run after a room is deactivated, outside the
// store lock. Hooks must be registered before the store is shared.
func (s *Store) OnDeactivate(fn func(roomID string)) {
	s.onDeactivate = append(s.onDeactivate, fn)
}

func (s *Store) CreateRoom(ctx context.Context, p CreateRoomParams) (*types.Room, error) {
	p.CreatorID = strings.TrimSpace(p.CreatorID)
	p.Name = strings.TrimSpace(p.Name)
	if p.CreatorID == "" || p.Name == "" || !p.CreatorRole.Valid() {
		return nil, types.ErrInvalidRoom
	}
	if err := types.CheckLength("creatorId", p.CreatorID, types.MaxIDLength); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidRoom, err)
	}
	for field, value := range map[string]string{"name": p.Name, "subject": p.Subject, "chapter": p.Chapter, "topic": p.Topic} {
		if err := types.CheckLength(field, value, types.MaxNameLength); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidRoom, err)
		}
	}

	s.mu.Lock()
	now := s.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to generate room id: %w", err)
	}
	room := &types.Room{
		ID:        id.String(),
		Name:      p.Name,
		Subject:   p.Subject,
		Chapter:   p.Chapter,
		Topic:     p.Topic,
		CreatedBy: types.Creator{UserID: p.CreatorID, Role: p.CreatorRole},
		CreatedAt: now,
		Active:    true,
	}
	s.rooms[room.ID] = room
	active := s.countActiveLocked()
	created := *room
	s.mu.Unlock()

	s.metrics.SetActiveRooms(active)
	s.record(ctx, room.ID, types.JournalRoomCreated, p.CreatorID, room.Name)
	logger.Info("room created",
		zap.String("room_id", room.ID),
		zap.String("name", room.Name),
		zap.String("creator", p.CreatorID))
	return &created, nil
}

// ListActive returns active rooms, newest first. Rooms created at the same
// instant are ordered by id, descending.
func (s *Store) ListActive() []*types.Room {
	s.mu.RLock()
	list := make([]*types.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		if room.Active {
			r := *room
			list = append(list, &r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	return list
}

// Get returns a copy of the room, active or not.
func (s *Store) Get(id string) (*types.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, types.ErrRoomNotFound
	}
	r := *room
	return &r, nil
}

// IsActive returns nil for an active room, ErrRoomInactive for a
// deactivated one and ErrRoomNotFound otherwise.
func (s *Store) IsActive(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return types.ErrRoomNotFound
	}
	if !room.Active {
		return types.ErrRoomInactive
	}
	return nil
}

// Deactivate marks the room inactive. Only the creator may do this, and the
// check applies even when the room is already inactive. Deactivating twice
// is not an error.
func (s *Store) Deactivate(ctx context.Context, id, requesterID string) (*types.Room, error) {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return nil, types.ErrRoomNotFound
	}
	if room.CreatedBy.UserID != requesterID {
		s.mu.Unlock()
		return nil, types.ErrForbidden
	}
	wasActive := room.Active
	room.Active = false
	active := s.countActiveLocked()
	result := *room
	s.mu.Unlock()

	if !wasActive {
		return &result, nil
	}

	for _, fn := range s.onDeactivate {
		fn(id)
	}
	s.metrics.SetActiveRooms(active)
	s.record(ctx, id, types.JournalRoomDeactivated, requesterID, "")
	logger.Info("room deactivated", zap.String("room_id", id), zap.String("requester", requesterID))
	return &result, nil
}

// Count returns the number of rooms ever created and the number still active.
func (s *Store) Count() (total, active int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), s.countActiveLocked()
}

func (s *Store) countActiveLocked() int {
	n := 0
	for _, room := range s.rooms {
		if room.Active {
			n++
		}
	}
	return n
}

func (s *Store) record(ctx context.Context, roomID, event, userID, detail string) {
	if s.journal == nil {
		return
	}
	entry := &types.JournalEntry{RoomID: roomID, Event: event, UserID: userID, Detail: detail}
	if err := s.journal.Record(ctx, entry); err != nil {
		logger.Warn("journal write failed",
			zap.String("room_id", roomID),
			zap.String("event", event),
			zap.Error(err))
	}
}
