package signal

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/media"
)

// mediaError lifts the media layer's sentinel errors into the client
// error taxonomy; anything unrecognized surfaces as internal.
func mediaError(err error) error {
	switch {
	case errors.Is(err, media.ErrTransportConnected):
		return apperr.New(apperr.KindProtocol, "TRANSPORT_CONNECTED", "transport already connected")
	case errors.Is(err, media.ErrTransportClosed):
		return apperr.New(apperr.KindProtocol, "TRANSPORT_CLOSED", "transport closed")
	case errors.Is(err, media.ErrNotConnected):
		return apperr.New(apperr.KindProtocol, "TRANSPORT_NOT_CONNECTED", "transport not connected")
	case errors.Is(err, media.ErrInvalidKind):
		return apperr.New(apperr.KindProtocol, "INVALID_KIND", "unsupported media kind")
	case errors.Is(err, media.ErrProducerExists):
		return apperr.New(apperr.KindConflict, "PRODUCER_EXISTS", "producer for this kind already exists")
	case errors.Is(err, media.ErrProducerClosed):
		return apperr.New(apperr.KindNotFound, "PRODUCER_CLOSED", "producer already closed")
	case errors.Is(err, media.ErrOwnProducer):
		return apperr.New(apperr.KindProtocol, "OWN_PRODUCER", "cannot consume your own producer")
	default:
		return apperr.Wrap(apperr.KindInternal, "MEDIA", "media operation failed", err)
	}
}

var errNoTransport = apperr.New(apperr.KindProtocol, "TRANSPORT_NOT_INITIALIZED", "transport not initialized")

// handleConnectTransport finalizes the ICE/DTLS handshake. Valid exactly
// once, after the joinRoom response delivered the transport parameters.
func (ctl *Controller) handleConnectTransport(sess *Session, data []byte) {
	type connectPayload struct {
		Type           string                `json:"type"`
		ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
		DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	}
	var p connectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad connectTransport payload")
		ctl.sendError(sess.conn, apperr.New(apperr.KindProtocol, "BAD_PAYLOAD", "bad connectTransport payload"))
		return
	}

	transport := sess.Transport()
	if transport == nil {
		ctl.sendError(sess.conn, errNoTransport)
		return
	}
	if err := transport.Connect(p.ICEParameters, p.DTLSParameters); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("connectTransport failed")
		ctl.sendError(sess.conn, mediaError(err))
		return
	}
	sess.MarkConnected()
	ctl.sendJSON(sess.conn, struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}{Type: "connected", ID: transport.ID()})
	log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Str("transport", transport.ID()).Msg("transport connected")
}

// handleProduce registers an outbound stream and tells everyone else in
// the room about it.
func (ctl *Controller) handleProduce(sess *Session, data []byte) {
	type producePayload struct {
		Type          string          `json:"type"`
		Kind          string          `json:"kind"`
		RTPParameters json.RawMessage `json:"rtpParameters"`
	}
	var p producePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad produce payload")
		ctl.sendError(sess.conn, apperr.New(apperr.KindProtocol, "BAD_PAYLOAD", "bad produce payload"))
		return
	}

	transport := sess.Transport()
	if transport == nil {
		ctl.sendError(sess.conn, errNoTransport)
		return
	}
	producer, err := transport.Produce(media.Kind(p.Kind), p.RTPParameters)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Str("kind", p.Kind).Msg("produce failed")
		ctl.sendError(sess.conn, mediaError(err))
		return
	}
	ctl.sendJSON(sess.conn, struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}{Type: "produced", ID: producer.ID})

	ctl.Orch.BroadcastNewProducer(sess.RoomID(), sess.sid, producer.ID, sess.User().ID)
	log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Str("producer", producer.ID).Str("kind", p.Kind).Msg("producing")
}

// handleConsume binds the session to a remote producer. A producer that
// vanished between the newProducer event and this request is a skip, not
// an error: the client gets a producerGone notice and moves on.
func (ctl *Controller) handleConsume(sess *Session, data []byte) {
	type consumePayload struct {
		Type            string          `json:"type"`
		ProducerID      string          `json:"producerId"`
		RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	var p consumePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad consume payload")
		ctl.sendError(sess.conn, apperr.New(apperr.KindProtocol, "BAD_PAYLOAD", "bad consume payload"))
		return
	}

	transport := sess.Transport()
	if transport == nil {
		ctl.sendError(sess.conn, errNoTransport)
		return
	}
	consumer, err := transport.Consume(p.ProducerID, p.RTPCapabilities)
	if err != nil {
		if errors.Is(err, media.ErrProducerClosed) {
			log.Debug().Str("module", "signal").Str("sid", string(sess.sid)).Str("producer", p.ProducerID).Msg("consume raced producer close")
			ctl.sendJSON(sess.conn, struct {
				Type       string `json:"type"`
				ProducerID string `json:"producerId"`
			}{Type: "producerGone", ProducerID: p.ProducerID})
			return
		}
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("consume failed")
		ctl.sendError(sess.conn, mediaError(err))
		return
	}
	ctl.sendJSON(sess.conn, struct {
		Type       string     `json:"type"`
		ID         string     `json:"id"`
		ProducerID string     `json:"producerId"`
		Kind       media.Kind `json:"kind"`
	}{Type: "consumed", ID: consumer.ID, ProducerID: consumer.ProducerID, Kind: consumer.Kind})
}
