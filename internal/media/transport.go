package media

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	initialAvailableOutgoingBitrate = 1_000_000
	minimumAvailableOutgoingBitrate = 600_000
	maxMessageSize                  = 262_144
)

// TransportParams is everything the client needs to complete the
// ICE/DTLS handshake against this transport.
type TransportParams struct {
	ID                       string                      `json:"id"`
	ICEParameters            webrtc.ICEParameters        `json:"iceParameters"`
	ICECandidates            []webrtc.ICECandidateInit   `json:"iceCandidates"`
	DTLSParameters           webrtc.DTLSParameters       `json:"dtlsParameters"`
	InitialOutgoingBitrate   int                         `json:"initialAvailableOutgoingBitrate"`
	MinimumOutgoingBitrate   int                         `json:"minimumAvailableOutgoingBitrate"`
	MaxMessageSize           int                         `json:"maxMessageSize"`
	RouterRTPCapabilities    []webrtc.RTPCodecCapability `json:"routerRtpCapabilities"`
}

// Producer is a participant's outbound stream for one media kind. RTP
// parameters stay opaque to this layer.
type Producer struct {
	ID            string
	Kind          Kind
	RTPParameters json.RawMessage
	transportID   string
}

// Consumer is a participant's inbound handle to a remote producer. It
// references the producer by id only and must tolerate it closing first.
type Consumer struct {
	ID              string
	ProducerID      string
	Kind            Kind
	RTPCapabilities json.RawMessage
}

// Transport is the per-participant network endpoint, one per room. It is
// a direction-agnostic container for the ICE/DTLS state and owns this
// participant's producers and consumers.
type Transport struct {
	id       string
	router   *Router
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	mu        sync.Mutex
	connected bool
	closed    bool
	producers map[Kind]*Producer
	consumers map[string]*Consumer
}

// CreateTransport allocates a transport on this router's worker, gathers
// local candidates and returns the handle. Params() exposes what the
// client needs for the handshake.
func (r *Router) CreateTransport() (*Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRouterClosed
	}

	gatherer, err := r.worker.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}

	done := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(done)
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", err)
	}
	<-done

	ice := r.worker.api.NewICETransport(gatherer)
	dtls, err := r.worker.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	t := &Transport{
		id:        uuid.NewString(),
		router:    r,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		producers: make(map[Kind]*Producer),
		consumers: make(map[string]*Consumer),
	}
	r.addTransport(t)
	log.Debug().Str("module", "media.transport").Str("transport", t.id).Str("room", r.roomID).Msg("transport created")
	return t, nil
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Params() (TransportParams, error) {
	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return TransportParams{}, fmt.Errorf("local ice parameters: %w", err)
	}
	candidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return TransportParams{}, fmt.Errorf("local candidates: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return TransportParams{}, fmt.Errorf("local dtls parameters: %w", err)
	}

	inits := make([]webrtc.ICECandidateInit, 0, len(candidates))
	for _, c := range candidates {
		inits = append(inits, c.ToJSON())
	}
	return TransportParams{
		ID:                     t.id,
		ICEParameters:          iceParams,
		ICECandidates:          inits,
		DTLSParameters:         dtlsParams,
		InitialOutgoingBitrate: initialAvailableOutgoingBitrate,
		MinimumOutgoingBitrate: minimumAvailableOutgoingBitrate,
		MaxMessageSize:         maxMessageSize,
		RouterRTPCapabilities:  t.router.Capabilities(),
	}, nil
}

// Connect finalizes the handshake exactly once. Connecting an already
// connected or closed transport fails.
func (t *Transport) Connect(remoteICE webrtc.ICEParameters, remoteDTLS webrtc.DTLSParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.connected {
		return ErrTransportConnected
	}

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, remoteICE, &role); err != nil {
		return fmt.Errorf("ice start: %w", err)
	}
	if err := t.dtls.Start(remoteDTLS); err != nil {
		return fmt.Errorf("dtls start: %w", err)
	}
	t.connected = true
	log.Debug().Str("module", "media.transport").Str("transport", t.id).Msg("transport connected")
	return nil
}

// Produce registers this participant's outbound stream for a kind.
// At most one producer per kind per transport.
func (t *Transport) Produce(kind Kind, rtpParameters json.RawMessage) (*Producer, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if !t.connected {
		return nil, ErrNotConnected
	}
	if _, ok := t.producers[kind]; ok {
		return nil, ErrProducerExists
	}

	p := &Producer{
		ID:            uuid.NewString(),
		Kind:          kind,
		RTPParameters: rtpParameters,
		transportID:   t.id,
	}
	t.producers[kind] = p
	t.router.registerProducer(p)
	log.Debug().Str("module", "media.transport").Str("transport", t.id).Str("producer", p.ID).Str("kind", string(kind)).Msg("producer registered")
	return p, nil
}

func (t *Transport) ProducerIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.producers))
	for _, p := range t.producers {
		out = append(out, p.ID)
	}
	return out
}

// Consume binds a consumer to an existing remote producer. A vanished
// producer is a soft failure (ErrProducerClosed): the caller skips that
// participant.
func (t *Transport) Consume(producerID string, rtpCapabilities json.RawMessage) (*Consumer, error) {
	p, ok := t.router.lookupProducer(producerID)
	if !ok {
		return nil, ErrProducerClosed
	}
	if p.transportID == t.id {
		return nil, ErrOwnProducer
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	c := &Consumer{
		ID:              uuid.NewString(),
		ProducerID:      producerID,
		Kind:            p.Kind,
		RTPCapabilities: rtpCapabilities,
	}
	t.consumers[c.ID] = c
	return c, nil
}

func (t *Transport) closeConsumersOf(gone map[string]struct{}) []ClosedConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	var closed []ClosedConsumer
	for id, c := range t.consumers {
		if _, ok := gone[c.ProducerID]; !ok {
			continue
		}
		delete(t.consumers, id)
		closed = append(closed, ClosedConsumer{TransportID: t.id, ConsumerID: id, ProducerID: c.ProducerID})
	}
	return closed
}

// Close cascades top-down: producers leave the router arena, consumers are
// dropped, then DTLS, ICE and the gatherer are stopped. Each sub-step may
// fail; failures are logged and the remaining steps still run. Returns the
// ids of producers that were live so the caller can close remote consumers
// referencing them. Idempotent.
func (t *Transport) Close() []string {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producerIDs := make([]string, 0, len(t.producers))
	for _, p := range t.producers {
		producerIDs = append(producerIDs, p.ID)
	}
	t.producers = make(map[Kind]*Producer)
	t.consumers = make(map[string]*Consumer)
	t.mu.Unlock()

	for _, id := range producerIDs {
		t.router.unregisterProducer(id)
	}
	if err := t.dtls.Stop(); err != nil {
		log.Warn().Err(err).Str("module", "media.transport").Str("transport", t.id).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Warn().Err(err).Str("module", "media.transport").Str("transport", t.id).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media.transport").Str("transport", t.id).Msg("gatherer close")
	}
	t.router.removeTransport(t.id)
	log.Debug().Str("module", "media.transport").Str("transport", t.id).Msg("transport closed")
	return producerIDs
}
