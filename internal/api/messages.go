package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/chatreply/internal/api/auth"
	"github.com/chatreply/internal/jobqueue"
)

// MessagePostedRequest is the body of POST /api/v1/messages/posted.
type MessagePostedRequest struct {
	OrganizationID int64 `json:"organizationId"`
	RoomID         int64 `json:"roomId"`
	MessageID      int64 `json:"messageId"`
}

// MessagePostedResponse acknowledges a queued message.
type MessagePostedResponse struct {
	JobID     int64 `json:"jobId"`
	Duplicate bool  `json:"duplicate"`
}

func (s *Server) messagePosted(c echo.Context) error {
	var req MessagePostedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OrganizationID <= 0 || req.RoomID <= 0 || req.MessageID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "organizationId, roomId and messageId must be positive")
	}

	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}
	if claims.OrganizationID != req.OrganizationID {
		return echo.NewHTTPError(http.StatusForbidden, "token is not valid for this organization")
	}

	jobID, duplicate, err := s.enqueuer.EnqueueMessagePosted(c.Request().Context(), jobqueue.MessagePostedArgs{
		OrganizationID: req.OrganizationID,
		RoomID:         req.RoomID,
		MessageID:      req.MessageID,
	})
	if err != nil {
		log.Error().Err(err).
			Int64("room_id", req.RoomID).
			Int64("message_id", req.MessageID).
			Msg("failed to queue posted message")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not queue message")
	}

	return c.JSON(http.StatusAccepted, MessagePostedResponse{JobID: jobID, Duplicate: duplicate})
}
