package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/core"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump owns teardown: whatever ends the read loop, the session's
// resources are released through the orchestrator before it returns.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sess *Session) {
	c := sess.conn
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump closing")
		sess.markClosed()
		cancel()
		c.Close()
		ctl.Orch.Disconnect(context.Background(), sess.sid)
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump read error")
				return
			}
			if !ctl.handleSignal(ctx, sess, data) {
				return
			}
		}
	}
}

// handleSignal dispatches one inbound frame. It returns false when the
// frame was a fatal protocol violation and the connection must close.
func (ctl *Controller) handleSignal(ctx context.Context, sess *Session, data []byte) bool {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("bad json")
		ctl.sendError(sess.conn, apperr.New(apperr.KindProtocol, "BAD_FRAME", "malformed frame"))
		return false
	}

	switch env.Type {
	case "joinRoom":
		ctl.handleJoinRoom(ctx, sess, data)
	case "connectTransport":
		ctl.handleConnectTransport(sess, data)
	case "produce":
		ctl.handleProduce(sess, data)
	case "consume":
		ctl.handleConsume(sess, data)
	case "offer", "answer", "ice-candidate":
		ctl.handleRelay(sess, env.Type, data)
	case "ping":
		ctl.sendJSON(sess.conn, map[string]string{"type": "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(sess.conn, apperr.New(apperr.KindProtocol, "UNKNOWN_TYPE", "unknown message type"))
	}
	return true
}

func (ctl *Controller) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(core.Frame(b))
}

// sendError reports a non-fatal failure to the client as a message/code
// pair; the connection stays open.
func (ctl *Controller) sendError(c *WsSignalConn, err error) {
	ctl.sendJSON(c, map[string]string{
		"type":    "error",
		"code":    apperr.CodeOf(err),
		"message": apperr.MessageOf(err),
	})
}
