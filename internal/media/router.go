package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// The codec set is fixed: one audio codec, one video codec. The registry
// does not negotiate beyond it.
var routerCodecs = []webrtc.RTPCodecCapability{
	{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
}

// Router is the per-room routing context. It is owned by exactly one
// worker and holds the room's transports plus a producer arena keyed by
// id, so consumers can reference remote producers without owning them.
type Router struct {
	id     string
	roomID string
	worker *Worker

	mu         sync.RWMutex
	closed     bool
	transports map[string]*Transport
	producers  map[string]*Producer
}

func (r *Router) ID() string     { return r.id }
func (r *Router) RoomID() string { return r.roomID }
func (r *Router) Worker() *Worker { return r.worker }

func (r *Router) Capabilities() []webrtc.RTPCodecCapability {
	out := make([]webrtc.RTPCodecCapability, len(routerCodecs))
	copy(out, routerCodecs)
	return out
}

func (r *Router) TransportCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transports)
}

func (r *Router) addTransport(t *Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.id] = t
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.ID] = p
}

func (r *Router) unregisterProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

// lookupProducer resolves a weak producer reference. A miss means the
// producer already closed, never a crash.
func (r *Router) lookupProducer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

// ClosedConsumer identifies a consumer that was force-closed because the
// producer it referenced went away.
type ClosedConsumer struct {
	TransportID string
	ConsumerID  string
	ProducerID  string
}

// CloseConsumersOf closes, on every transport of this router, the
// consumers referencing any of the given producers, and reports them so
// the owning participants can be notified.
func (r *Router) CloseConsumersOf(producerIDs []string) []ClosedConsumer {
	if len(producerIDs) == 0 {
		return nil
	}
	gone := make(map[string]struct{}, len(producerIDs))
	for _, id := range producerIDs {
		gone[id] = struct{}{}
	}

	r.mu.RLock()
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.RUnlock()

	var closed []ClosedConsumer
	for _, t := range transports {
		closed = append(closed, t.closeConsumersOf(gone)...)
	}
	return closed
}

func (r *Router) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	log.Info().Str("module", "media.router").Str("room", r.roomID).Msg("router closed")
}

// Registry maps a room id to exactly one router, lazily created on the
// next pool-assigned worker.
type Registry struct {
	mu      sync.Mutex
	pool    *Pool
	routers map[string]*Router
}

func NewRegistry(pool *Pool) *Registry {
	return &Registry{pool: pool, routers: make(map[string]*Router)}
}

// GetOrCreate returns the room's router, creating it on the next worker if
// needed. The registry mutex covers lookup and creation, so concurrent
// calls for the same unseen room id observe one router.
func (g *Registry) GetOrCreate(roomID string) *Router {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.routers[roomID]; ok {
		return r
	}
	w := g.pool.Next()
	r := &Router{
		id:         uuid.NewString(),
		roomID:     roomID,
		worker:     w,
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
	g.routers[roomID] = r
	w.addRouter(r)
	log.Info().Str("module", "media.registry").Str("room", roomID).Int("worker", w.index).Msg("router created")
	return r
}

func (g *Registry) Get(roomID string) (*Router, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.routers[roomID]
	return r, ok
}

// Remove drops the room's router. The caller must guarantee the room is
// empty first: removing a router with live transports is an error.
func (g *Registry) Remove(roomID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.routers[roomID]
	if !ok {
		return nil
	}
	if r.TransportCount() > 0 {
		return ErrRouterBusy
	}
	r.close()
	r.worker.removeRouter(roomID)
	delete(g.routers, roomID)
	log.Info().Str("module", "media.registry").Str("room", roomID).Msg("router removed")
	return nil
}
