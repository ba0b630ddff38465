package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/app"
	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/domain"
)

type Handlers struct {
	Orch *app.Orchestrator
	Mod  *app.Moderator
}

// roomView is the REST shape of a room.
type roomView struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Participants    []string `json:"participants"`
	MaxParticipants int      `json:"maxParticipants"`
	CreatedAt       int64    `json:"createdAt"`
}

func viewRoom(r domain.Room) roomView {
	participants := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, string(p))
	}
	return roomView{
		ID:              string(r.ID),
		Name:            r.Name,
		Participants:    participants,
		MaxParticipants: r.MaxParticipants,
		CreatedAt:       r.CreatedAt.UnixMilli(),
	}
}

func (h *Handlers) ListRooms(c *gin.Context) {
	user := currentUser(c)
	rooms, err := h.Orch.Rooms.ListAvailable(c.Request.Context(), user.OrgID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]roomView, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, viewRoom(r))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *Handlers) AutoJoin(c *gin.Context) {
	user := currentUser(c)
	room, err := h.Orch.AutoJoin(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": viewRoom(room)})
}

func (h *Handlers) Join(c *gin.Context) {
	var req struct {
		RoomID string `json:"roomId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.KindProtocol, "BAD_REQUEST", "roomId is required"))
		return
	}
	user := currentUser(c)
	room, err := h.Orch.Join(c.Request.Context(), user, domain.RoomID(req.RoomID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": viewRoom(room)})
}

func (h *Handlers) Leave(c *gin.Context) {
	user := currentUser(c)
	roomID, err := h.Orch.LeaveUser(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": string(roomID)})
}

func (h *Handlers) SubmitReport(c *gin.Context) {
	var req struct {
		ReportedUserID string `json:"reportedUserId" binding:"required"`
		RoomID         string `json:"roomId" binding:"required"`
		Reason         string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.KindProtocol, "BAD_REQUEST", "reportedUserId and roomId are required"))
		return
	}
	user := currentUser(c)
	outcome, err := h.Mod.SubmitReport(c.Request.Context(), user.ID,
		domain.RoomID(req.RoomID), domain.UserID(req.ReportedUserID), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// writeError maps the error taxonomy onto HTTP statuses; clients key off
// the code, not the status text.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindAuth:
		status = http.StatusUnauthorized
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindCapacity, apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindProtocol:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Msg("request failed")
	}
	c.JSON(status, gin.H{
		"code":    apperr.CodeOf(err),
		"message": apperr.MessageOf(err),
	})
}
