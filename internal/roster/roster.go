// Package roster tracks which users are in which room and which connection,
// if any, each of them is bound to.
package roster

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/pkg/interfaces"
	"edurelay/pkg/types"
)

// RoomLookup is the part of the room store the roster depends on.
type RoomLookup interface {
	Get(id string) (*types.Room, error)
	IsActive(id string) error
}

// room is one room's participant set. Every read or write of participants
// happens with mu held.
type room struct {
	mu           sync.Mutex
	participants map[string]*types.Participant
	discarded    bool
}

// Roster owns participant records for all rooms. The room map lock is held
// only long enough to find or create a room entry; everything else is done
// under the individual room's lock, so rooms never contend with each other.
type Roster struct {
	rooms   RoomLookup
	journal interfaces.Journal

	entries map[string]*room
	now     func() time.Time
	mu      sync.RWMutex
}

// New creates an empty roster. journal may be nil.
func New(rooms RoomLookup, journal interfaces.Journal) *Roster {
	return &Roster{
		rooms:   rooms,
		journal: journal,
		entries: make(map[string]*room),
		now:     time.Now,
	}
}

func (r *Roster) lookup(roomID string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[roomID]
}

func (r *Roster) getOrCreate(roomID string) *room {
	r.mu.RLock()
	e, ok := r.entries[roomID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[roomID]; ok {
		return e
	}
	e = &room{participants: make(map[string]*types.Participant)}
	r.entries[roomID] = e
	return e
}

// dropIfEmpty forgets an entry that ended up with no participants. The entry
// is marked discarded so a Join still holding it retries with a fresh one.
func (r *Roster) dropIfEmpty(roomID string, e *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[roomID] != e {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.participants) == 0 {
		e.discarded = true
		delete(r.entries, roomID)
	}
}

// NormalizeID is applied to every user id the roster accepts, so lookups
// match whatever Join stored.
func NormalizeID(userID string) string {
	return strings.TrimSpace(userID)
}

// Join adds the user to an active room. If the user is already present the
// existing record is returned unchanged and created is false.
func (r *Roster) Join(ctx context.Context, roomID, userID, name string, role types.Role) (*types.Participant, bool, error) {
	if err := r.rooms.IsActive(roomID); err != nil {
		return nil, false, err
	}
	userID = NormalizeID(userID)
	if userID == "" || !role.Valid() {
		return nil, false, types.ErrInvalidParticipant
	}
	if len(userID) > types.MaxIDLength || len(name) > types.MaxNameLength {
		return nil, false, types.ErrInvalidParticipant
	}

	for {
		e := r.getOrCreate(roomID)
		e.mu.Lock()
		if e.discarded {
			// Lost a race with Discard; the next lookup sees a fresh entry.
			e.mu.Unlock()
			continue
		}

		// Re-checked under the room lock so a concurrent deactivation either
		// sees this participant and discards it, or makes this join fail.
		if err := r.rooms.IsActive(roomID); err != nil {
			empty := len(e.participants) == 0
			e.mu.Unlock()
			if empty {
				r.dropIfEmpty(roomID, e)
			}
			return nil, false, err
		}

		if existing, ok := e.participants[userID]; ok {
			p := existing.Clone()
			e.mu.Unlock()
			return &p, false, nil
		}

		now := r.now().UTC()
		p := &types.Participant{
			RoomID:   roomID,
			UserID:   userID,
			Name:     name,
			Role:     role,
			JoinedAt: now,
			LastSeen: now,
		}
		e.participants[userID] = p
		joined := p.Clone()
		e.mu.Unlock()

		r.record(ctx, roomID, types.JournalParticipantJoined, userID, string(role))
		logger.Info("participant joined",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.String("role", string(role)))
		return &joined, true, nil
	}
}

// Leave removes the user from the room and returns the removed record.
func (r *Roster) Leave(ctx context.Context, roomID, userID string) (*types.Participant, error) {
	userID = NormalizeID(userID)
	e := r.lookup(roomID)
	if e == nil {
		if _, err := r.rooms.Get(roomID); err != nil {
			return nil, err
		}
		return nil, types.ErrParticipantNotFound
	}

	e.mu.Lock()
	p, ok := e.participants[userID]
	if !ok {
		e.mu.Unlock()
		return nil, types.ErrParticipantNotFound
	}
	delete(e.participants, userID)
	left := p.Clone()
	e.mu.Unlock()

	r.record(ctx, roomID, types.JournalParticipantLeft, userID, "")
	logger.Info("participant left", zap.String("room_id", roomID), zap.String("user_id", userID))
	return &left, nil
}

// Remove deletes targetUserID from the room on behalf of requesterID. The
// requester must be the room's creator or a teacher currently in the room.
func (r *Roster) Remove(ctx context.Context, roomID, requesterID, targetUserID string) (*types.Participant, error) {
	requesterID, targetUserID = NormalizeID(requesterID), NormalizeID(targetUserID)
	rm, err := r.rooms.Get(roomID)
	if err != nil {
		return nil, err
	}

	e := r.lookup(roomID)
	if e == nil {
		if rm.CreatedBy.UserID == requesterID && requesterID != "" {
			return nil, types.ErrParticipantNotFound
		}
		return nil, types.ErrForbidden
	}

	e.mu.Lock()
	if !canModerate(rm, e, requesterID) {
		e.mu.Unlock()
		return nil, types.ErrForbidden
	}
	p, ok := e.participants[targetUserID]
	if !ok {
		e.mu.Unlock()
		return nil, types.ErrParticipantNotFound
	}
	delete(e.participants, targetUserID)
	removed := p.Clone()
	e.mu.Unlock()

	r.record(ctx, roomID, types.JournalParticipantRemoved, targetUserID, "by "+requesterID)
	logger.Info("participant removed",
		zap.String("room_id", roomID),
		zap.String("user_id", targetUserID),
		zap.String("requester", requesterID))
	return &removed, nil
}

func canModerate(rm *types.Room, e *room, requesterID string) bool {
	if requesterID == "" {
		return false
	}
	if rm.CreatedBy.UserID == requesterID {
		return true
	}
	p, ok := e.participants[requesterID]
	return ok && p.Role == types.RoleTeacher
}

// CanModerate reports whether the participant bound to handle may remove
// others from the room.
func (r *Roster) CanModerate(roomID string, handle types.Handle) bool {
	rm, err := r.rooms.Get(roomID)
	if err != nil {
		return false
	}
	e := r.lookup(roomID)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.participants {
		if p.Bound() && *p.Handle == handle && canModerate(rm, e, p.UserID) {
			return true
		}
	}
	return false
}

// Bind points the participant at handle, replacing any older binding. It
// returns false, changing nothing, when the participant is not in the room.
func (r *Roster) Bind(roomID, userID string, handle types.Handle) (types.Participant, bool) {
	userID = NormalizeID(userID)
	e := r.lookup(roomID)
	if e == nil {
		return types.Participant{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.participants[userID]
	if !ok {
		return types.Participant{}, false
	}
	h := handle
	p.Handle = &h
	p.LastSeen = r.now().UTC()
	return p.Clone(), true
}

// Unbind clears the participant's binding. Missing participants are ignored.
func (r *Roster) Unbind(roomID, userID string) bool {
	userID = NormalizeID(userID)
	e := r.lookup(roomID)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.participants[userID]
	if !ok || !p.Bound() {
		return false
	}
	p.Handle = nil
	p.LastSeen = r.now().UTC()
	return true
}

// Get returns a copy of one participant record.
func (r *Roster) Get(roomID, userID string) (types.Participant, bool) {
	userID = NormalizeID(userID)
	e := r.lookup(roomID)
	if e == nil {
		return types.Participant{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.participants[userID]
	if !ok {
		return types.Participant{}, false
	}
	return p.Clone(), true
}

// BoundTo returns a copy of the participant in the room bound to handle.
func (r *Roster) BoundTo(roomID string, handle types.Handle) (types.Participant, bool) {
	e := r.lookup(roomID)
	if e == nil {
		return types.Participant{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.participants {
		if p.Bound() && *p.Handle == handle {
			return p.Clone(), true
		}
	}
	return types.Participant{}, false
}

// Snapshot returns the room's participants ordered by join time, then user id.
func (r *Roster) Snapshot(roomID string) []types.Participant {
	e := r.lookup(roomID)
	if e == nil {
		return []types.Participant{}
	}
	e.mu.Lock()
	list := snapshotLocked(e)
	e.mu.Unlock()
	return list
}

func snapshotLocked(e *room) []types.Participant {
	list := make([]types.Participant, 0, len(e.participants))
	for _, p := range e.participants {
		list = append(list, p.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].UserID < list[j].UserID
	})
	return list
}

// WithRoom runs fn with the room's participants while holding the room
// lock. fn must not block and must not call back into the roster.
func (r *Roster) WithRoom(roomID string, fn func(participants []types.Participant)) bool {
	e := r.lookup(roomID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(snapshotLocked(e))
	return true
}

// BoundHandles lists the distinct handles bound in the room, minus except.
func (r *Roster) BoundHandles(roomID string, except types.Handle) []types.Handle {
	var handles []types.Handle
	r.WithRoom(roomID, func(participants []types.Participant) {
		seen := make(map[types.Handle]bool)
		for _, p := range participants {
			if !p.Bound() || *p.Handle == except || seen[*p.Handle] {
				continue
			}
			seen[*p.Handle] = true
			handles = append(handles, *p.Handle)
		}
	})
	return handles
}

// ClearHandle unbinds handle everywhere it is bound and returns copies of
// the participants that were affected, as they were before clearing.
// Participants are never removed here.
func (r *Roster) ClearHandle(handle types.Handle) []types.Participant {
	r.mu.RLock()
	entries := make([]*room, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	now := r.now().UTC()
	var affected []types.Participant
	for _, e := range entries {
		e.mu.Lock()
		for _, p := range e.participants {
			if p.Bound() && *p.Handle == handle {
				affected = append(affected, p.Clone())
				p.Handle = nil
				p.LastSeen = now
			}
		}
		e.mu.Unlock()
	}
	return affected
}

// Discard drops the room's roster entirely.
func (r *Roster) Discard(roomID string) {
	r.mu.Lock()
	e, ok := r.entries[roomID]
	delete(r.entries, roomID)
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	n := len(e.participants)
	e.discarded = true
	e.participants = make(map[string]*types.Participant)
	e.mu.Unlock()

	logger.Info("room roster discarded", zap.String("room_id", roomID), zap.Int("participants", n))
}

// LiveCount counts participants whose bound handle is still live.
func (r *Roster) LiveCount(roomID string, isLive func(types.Handle) bool) int {
	n := 0
	r.WithRoom(roomID, func(participants []types.Participant) {
		for _, p := range participants {
			if p.Bound() && isLive(*p.Handle) {
				n++
			}
		}
	})
	return n
}

// PruneStale removes participants that have been unbound for longer than
// olderThan and returns how many were removed.
func (r *Roster) PruneStale(ctx context.Context, olderThan time.Duration) int {
	if olderThan <= 0 {
		return 0
	}
	cutoff := r.now().UTC().Add(-olderThan)

	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	entries := make([]*room, 0, len(r.entries))
	for id, e := range r.entries {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	total := 0
	for i, e := range entries {
		var pruned []string
		e.mu.Lock()
		for userID, p := range e.participants {
			if !p.Bound() && p.LastSeen.Before(cutoff) {
				delete(e.participants, userID)
				pruned = append(pruned, userID)
			}
		}
		empty := len(e.participants) == 0
		e.mu.Unlock()

		if empty {
			r.dropIfEmpty(ids[i], e)
		}
		for _, userID := range pruned {
			r.record(ctx, ids[i], types.JournalParticipantPruned, userID, "")
		}
		total += len(pruned)
	}
	return total
}

// Count returns the number of rooms with a roster and the total number of
// participants across them.
func (r *Roster) Count() (rooms, participants int) {
	r.mu.RLock()
	entries := make([]*room, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		participants += len(e.participants)
		e.mu.Unlock()
	}
	return len(entries), participants
}

func (r *Roster) record(ctx context.Context, roomID, event, userID, detail string) {
	if r.journal == nil {
		return
	}
	entry := &types.JournalEntry{RoomID: roomID, Event: event, UserID: userID, Detail: detail}
	if err := r.journal.Record(ctx, entry); err != nil {
		logger.Warn("journal write failed",
			zap.String("room_id", roomID),
			zap.String("event", event),
			zap.Error(err))
	}
}
