package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/core"
	"github.com/telemeet/huddle/internal/domain"
	"github.com/telemeet/huddle/internal/media"
)

// handleJoinRoom attaches the session to a room and answers with the
// transport handshake parameters plus the current occupants. An empty
// roomId means auto-join. Rejoin is allowed from any live state; the
// previous room's membership and media are released by the join itself.
func (ctl *Controller) handleJoinRoom(ctx context.Context, sess *Session, data []byte) {
	type joinPayload struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad joinRoom payload")
		ctl.sendError(sess.conn, apperr.New(apperr.KindProtocol, "BAD_PAYLOAD", "bad joinRoom payload"))
		return
	}

	user := sess.User()
	prevRoom := sess.RoomID()
	var room domain.Room
	var err error
	if p.RoomID == "" {
		room, err = ctl.Orch.AutoJoin(ctx, user)
	} else {
		room, err = ctl.Orch.Join(ctx, user, domain.RoomID(p.RoomID))
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("joinRoom failed")
		ctl.sendError(sess.conn, err)
		return
	}

	// Rejoining the room the session already sat in leaves its previous
	// transport behind; cascade-close it before attaching a fresh one.
	if old := sess.DetachTransport(); old != nil {
		ctl.Orch.CloseSessionTransport(prevRoom, old)
	}

	router := ctl.Orch.Media.GetOrCreate(string(room.ID))
	transport, err := router.CreateTransport()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(room.ID)).Msg("create transport")
		ctl.sendError(sess.conn, apperr.Wrap(apperr.KindInternal, "TRANSPORT_INIT", "could not create transport", err))
		return
	}
	sess.AttachTransport(room.ID, transport)
	ctl.Orch.Registry.SetRoom(sess.sid, room.ID)

	params, err := transport.Params()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(room.ID)).Msg("transport params")
		ctl.sendError(sess.conn, apperr.Wrap(apperr.KindInternal, "TRANSPORT_INIT", "could not read transport parameters", err))
		return
	}
	ctl.sendJSON(sess.conn, struct {
		Type   string                `json:"type"`
		RoomID domain.RoomID         `json:"roomId"`
		Params media.TransportParams `json:"transportParameters"`
	}{
		Type:   "transportParameters",
		RoomID: room.ID,
		Params: params,
	})

	participants, err := ctl.Orch.ExistingParticipants(ctx, room, user.ID)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(room.ID)).Msg("existing participants")
		ctl.sendError(sess.conn, err)
		return
	}
	ctl.sendJSON(sess.conn, struct {
		Type         string                 `json:"type"`
		RoomID       domain.RoomID          `json:"roomId"`
		Participants []core.ParticipantInfo `json:"participants"`
	}{
		Type:         "existingParticipants",
		RoomID:       room.ID,
		Participants: participants,
	})

	log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Str("room", string(room.ID)).Msg("joined room")
}
