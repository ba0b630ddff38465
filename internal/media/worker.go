package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Worker is an isolated media-processing unit with an exclusive UDP port
// range. Workers are created once at startup and closed only at shutdown.
type Worker struct {
	index   int
	minPort uint16
	maxPort uint16
	api     *webrtc.API

	mu      sync.Mutex
	routers map[string]*Router
}

func (w *Worker) Index() int      { return w.index }
func (w *Worker) MinPort() uint16 { return w.minPort }
func (w *Worker) MaxPort() uint16 { return w.maxPort }

func (w *Worker) addRouter(r *Router) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.routers[r.roomID] = r
}

func (w *Worker) removeRouter(roomID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.routers, roomID)
}

func (w *Worker) close() {
	w.mu.Lock()
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[string]*Router)
	w.mu.Unlock()

	// In-flight rooms are abandoned; clients observe connection loss.
	for _, r := range routers {
		r.close()
	}
}

type PoolConfig struct {
	Workers     int
	RTCMinPort  int
	RTCPortSpan int
	AnnouncedIP string
}

// Pool is the fixed-size set of workers. New rooms are assigned in
// round-robin order; the rotation counter is owned by the pool alone.
type Pool struct {
	workers []*Worker
	next    atomic.Uint32
	once    sync.Once
}

// NewPool creates every worker up front. Any failure is fatal to startup:
// the process cannot serve without full capacity.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("media pool: worker count must be positive, got %d", cfg.Workers)
	}
	if cfg.RTCPortSpan <= 0 {
		return nil, fmt.Errorf("media pool: port span must be positive, got %d", cfg.RTCPortSpan)
	}

	p := &Pool{workers: make([]*Worker, 0, cfg.Workers)}
	for i := 0; i < cfg.Workers; i++ {
		minPort := cfg.RTCMinPort + i*cfg.RTCPortSpan
		maxPort := minPort + cfg.RTCPortSpan - 1
		if maxPort > 65535 {
			return nil, fmt.Errorf("media pool: worker %d port range %d-%d exceeds 65535", i, minPort, maxPort)
		}

		se := webrtc.SettingEngine{}
		if err := se.SetEphemeralUDPPortRange(uint16(minPort), uint16(maxPort)); err != nil {
			return nil, fmt.Errorf("media pool: worker %d port range %d-%d: %w", i, minPort, maxPort, err)
		}
		if cfg.AnnouncedIP != "" {
			se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
		}

		w := &Worker{
			index:   i,
			minPort: uint16(minPort),
			maxPort: uint16(maxPort),
			api:     webrtc.NewAPI(webrtc.WithSettingEngine(se)),
			routers: make(map[string]*Router),
		}
		p.workers = append(p.workers, w)
		log.Info().Str("module", "media.pool").Int("worker", i).Int("min_port", minPort).Int("max_port", maxPort).Msg("worker initialized")
	}
	return p, nil
}

// Next returns workers in rotation order only; current load is never
// considered.
func (p *Pool) Next() *Worker {
	n := p.next.Add(1)
	return p.workers[int(n-1)%len(p.workers)]
}

func (p *Pool) Size() int { return len(p.workers) }

// Close shuts every worker down, releasing all ports. Safe to call once;
// further calls are no-ops.
func (p *Pool) Close() {
	p.once.Do(func() {
		for _, w := range p.workers {
			w.close()
		}
		log.Info().Str("module", "media.pool").Int("workers", len(p.workers)).Msg("pool closed")
	})
}
