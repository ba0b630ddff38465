package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/core"
	"github.com/telemeet/huddle/internal/domain"
)

// handleRelay forwards offer/answer/ice-candidate frames to the target
// participant's session, attaching the sender's id. The negotiation
// payload itself is never inspected.
func (ctl *Controller) handleRelay(sess *Session, msgType string, data []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad relay payload")
		ctl.sendError(sess.conn, apperr.New(apperr.KindProtocol, "BAD_PAYLOAD", "bad relay payload"))
		return
	}
	var target string
	if raw, ok := fields["target"]; ok {
		_ = json.Unmarshal(raw, &target)
	}
	if target == "" {
		ctl.sendError(sess.conn, apperr.New(apperr.KindProtocol, "NO_TARGET", "relay frame without target"))
		return
	}

	roomID := sess.RoomID()
	if roomID == "" {
		ctl.sendError(sess.conn, apperr.New(apperr.KindProtocol, "NOT_IN_ROOM", "join a room before relaying"))
		return
	}
	peer, ok := ctl.Orch.SessionInRoom(roomID, domain.UserID(target))
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sess.sid)).Str("target", target).Msg("relay target not found")
		ctl.sendError(sess.conn, apperr.New(apperr.KindNotFound, "TARGET_NOT_FOUND", "target participant not in room"))
		return
	}

	delete(fields, "target")
	sender, _ := json.Marshal(string(sess.User().ID))
	fields["sender"] = sender

	out, err := json.Marshal(fields)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay marshal")
		return
	}
	if err := peer.Signal().TrySend(core.Frame(out)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", msgType).Str("target", target).Msg("relay drop")
	}
}
