package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nonexistent")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.PingPeriod != 54*time.Second {
		t.Errorf("ping period = %v", cfg.PingPeriod)
	}
	if cfg.Media.Workers != 4 || cfg.Media.RTCMinPort != 40000 || cfg.Media.RTCPortSpan != 1000 {
		t.Errorf("media defaults = %+v", cfg.Media)
	}
	if cfg.ReadLimit != 32768 {
		t.Errorf("read limit = %d", cfg.ReadLimit)
	}
}
