package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/pkg/types"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{types.ErrRoomNotFound, http.StatusNotFound, "ROOM_NOT_FOUND"},
	{types.ErrRoomInactive, http.StatusNotFound, "ROOM_INACTIVE"},
	{types.ErrParticipantNotFound, http.StatusNotFound, "PARTICIPANT_NOT_FOUND"},
	{types.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{types.ErrFieldTooLong, http.StatusBadRequest, "FIELD_TOO_LONG"},
	{types.ErrInvalidRoom, http.StatusBadRequest, "INVALID_ROOM"},
	{types.ErrInvalidParticipant, http.StatusBadRequest, "INVALID_PARTICIPANT"},
	{types.ErrInvalidEvent, http.StatusBadRequest, "INVALID_REQUEST"},
}

// writeError maps a component error onto a status and machine code.
func writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			sendError(c, m.status, m.code, err.Error())
			return
		}
	}
	logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
}

func sendError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}

func badRequest(c *gin.Context, err error) {
	sendError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}
