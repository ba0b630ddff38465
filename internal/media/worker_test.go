package media

import "testing"

func TestNewPoolPortRanges(t *testing.T) {
	pool, err := NewPool(PoolConfig{Workers: 3, RTCMinPort: 40000, RTCPortSpan: 100})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	if pool.Size() != 3 {
		t.Fatalf("size = %d, want 3", pool.Size())
	}
	seen := map[uint16]bool{}
	for i := 0; i < 3; i++ {
		w := pool.Next()
		if seen[w.MinPort()] {
			t.Errorf("worker port ranges overlap at %d", w.MinPort())
		}
		seen[w.MinPort()] = true
		if w.MaxPort()-w.MinPort() != 99 {
			t.Errorf("worker %d range = [%d, %d], want span 100", w.Index(), w.MinPort(), w.MaxPort())
		}
	}
}

func TestNewPoolRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  PoolConfig
	}{
		{"zero workers", PoolConfig{Workers: 0, RTCMinPort: 40000, RTCPortSpan: 100}},
		{"zero span", PoolConfig{Workers: 2, RTCMinPort: 40000, RTCPortSpan: 0}},
		{"port overflow", PoolConfig{Workers: 4, RTCMinPort: 65000, RTCPortSpan: 1000}},
	}
	for _, c := range cases {
		if _, err := NewPool(c.cfg); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestPoolRoundRobin(t *testing.T) {
	pool, err := NewPool(PoolConfig{Workers: 2, RTCMinPort: 41000, RTCPortSpan: 100})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	a := pool.Next()
	b := pool.Next()
	c := pool.Next()
	if a == b {
		t.Error("consecutive Next() returned the same worker")
	}
	if a != c {
		t.Error("rotation should wrap back to the first worker")
	}
}
