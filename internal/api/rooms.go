package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/internal/relay"
	"edurelay/internal/rooms"
	"edurelay/pkg/types"
)

type CreateRoomRequest struct {
	CreatorID   string `json:"creatorId" binding:"required"`
	CreatorRole string `json:"creatorRole" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Subject     string `json:"subject"`
	Chapter     string `json:"chapter"`
	Topic       string `json:"topic"`
}

type JoinRoomRequest struct {
	UserID   string `json:"userId" binding:"required"`
	UserName string `json:"userName"`
	UserType string `json:"userType" binding:"required"`
}

type LeaveRoomRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type RemoveParticipantRequest struct {
	RequesterID string `json:"requesterId" binding:"required"`
	TargetID    string `json:"targetId" binding:"required"`
}

type DeactivateRoomRequest struct {
	RequesterID string `json:"requesterId" binding:"required"`
}

// RoomSummary is one entry of the room list.
type RoomSummary struct {
	*types.Room
	ParticipantCount int `json:"participantCount"`
}

type RoomResponse struct {
	Room         *types.Room         `json:"room"`
	Participant  *types.Participant  `json:"participant,omitempty"`
	Participants []types.Participant `json:"participants"`
}

// POST /api/rooms
func (s *Server) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	room, err := s.deps.Rooms.CreateRoom(c.Request.Context(), rooms.CreateRoomParams{
		CreatorID:   req.CreatorID,
		CreatorRole: types.ParseRole(req.CreatorRole),
		Name:        req.Name,
		Subject:     req.Subject,
		Chapter:     req.Chapter,
		Topic:       req.Topic,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

// GET /api/rooms lists active rooms with the number of participants that
// currently have a live channel.
func (s *Server) listRooms(c *gin.Context) {
	active := s.deps.Rooms.ListActive()
	summaries := make([]RoomSummary, len(active))
	for i, room := range active {
		summaries[i] = RoomSummary{
			Room:             room,
			ParticipantCount: s.deps.Roster.LiveCount(room.ID, s.deps.Registry.IsLive),
		}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": summaries})
}

// GET /api/rooms/:id
func (s *Server) getRoom(c *gin.Context) {
	room, err := s.deps.Rooms.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RoomResponse{
		Room:         room,
		Participants: s.deps.Roster.Snapshot(room.ID),
	})
}

// POST /api/rooms/:id/join adds the user to the roster without binding a
// channel. The channel's own join-room binds it and announces the user.
func (s *Server) joinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	roomID := c.Param("id")
	p, _, err := s.deps.Roster.Join(c.Request.Context(), roomID, req.UserID, req.UserName, types.ParseRole(req.UserType))
	if err != nil {
		writeError(c, err)
		return
	}
	room, err := s.deps.Rooms.Get(roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, RoomResponse{
		Room:         room,
		Participant:  p,
		Participants: s.deps.Roster.Snapshot(roomID),
	})
}

// POST /api/rooms/:id/leave
func (s *Server) leaveRoom(c *gin.Context) {
	var req LeaveRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p, err := s.deps.Roster.Leave(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.deps.Relay.NotifyLeft(*p, "")
	c.JSON(http.StatusOK, gin.H{"message": "left room", "participant": p})
}

// POST /api/rooms/:id/remove removes a participant and, when it has a live
// channel, tells it so before telling the rest of the room.
func (s *Server) removeParticipant(c *gin.Context) {
	var req RemoveParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	roomID := c.Param("id")
	p, err := s.deps.Roster.Remove(c.Request.Context(), roomID, req.RequesterID, req.TargetID)
	if err != nil {
		writeError(c, err)
		return
	}

	rm := relay.Removal{RoomID: roomID, Participant: p}
	if p.Bound() {
		rm.Target = *p.Handle
	}
	notified := s.deps.Relay.NotifyRemoval(rm)

	logger.Info("participant removed over http",
		zap.String("room_id", roomID),
		zap.String("user_id", p.UserID),
		zap.Bool("notified", notified))
	c.JSON(http.StatusOK, gin.H{"participant": p})
}

// POST /api/rooms/:id/deactivate and DELETE /api/rooms/:id. The requester
// may come from the body or, for DELETE, the requesterId query parameter.
func (s *Server) deactivateRoom(c *gin.Context) {
	var req DeactivateRoomRequest
	if q := c.Query("requesterId"); q != "" {
		req.RequesterID = q
	} else if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	room, err := s.deps.Rooms.Deactivate(c.Request.Context(), c.Param("id"), req.RequesterID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// GET /api/rooms/:id/history
func (s *Server) roomHistory(c *gin.Context) {
	if s.deps.Journal == nil {
		sendError(c, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "room history is not recorded")
		return
	}

	roomID := c.Param("id")
	if _, err := s.deps.Rooms.Get(roomID); err != nil {
		writeError(c, err)
		return
	}

	entries, err := s.deps.Journal.History(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "entries": entries})
}
