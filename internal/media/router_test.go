package media

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	pool, err := NewPool(PoolConfig{Workers: 2, RTCMinPort: 42000, RTCPortSpan: 200})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewRegistry(pool)
}

func TestGetOrCreateSingleFlight(t *testing.T) {
	reg := newTestRegistry(t)

	const callers = 16
	var wg sync.WaitGroup
	routers := make([]*Router, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			routers[i] = reg.GetOrCreate("room-1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if routers[i] != routers[0] {
			t.Fatalf("caller %d observed a different router", i)
		}
	}
}

func TestRegistryAssignsWorkersRoundRobin(t *testing.T) {
	reg := newTestRegistry(t)

	byWorker := map[*Worker]int{}
	for i := 0; i < 4; i++ {
		r := reg.GetOrCreate(fmt.Sprintf("room-%d", i))
		byWorker[r.Worker()]++
	}
	for w, n := range byWorker {
		if n != 2 {
			t.Errorf("worker %d got %d routers, want 2", w.Index(), n)
		}
	}
}

func TestRouterFixedCodecs(t *testing.T) {
	reg := newTestRegistry(t)
	caps := reg.GetOrCreate("room-1").Capabilities()
	if len(caps) != 2 {
		t.Fatalf("capabilities = %d codecs, want exactly one audio and one video", len(caps))
	}
}

func TestRemoveRefusesLiveTransports(t *testing.T) {
	reg := newTestRegistry(t)
	router := reg.GetOrCreate("room-1")

	transport, err := router.CreateTransport()
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	if err := reg.Remove("room-1"); !errors.Is(err, ErrRouterBusy) {
		t.Fatalf("remove with live transport: got %v, want ErrRouterBusy", err)
	}

	transport.Close()
	if err := reg.Remove("room-1"); err != nil {
		t.Fatalf("remove after close: %v", err)
	}
	if _, ok := reg.Get("room-1"); ok {
		t.Error("removed router still registered")
	}
	if err := reg.Remove("room-1"); err != nil {
		t.Errorf("removing an absent router should be a no-op, got %v", err)
	}
}
