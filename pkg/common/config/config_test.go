package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadPickupDefaults(t *testing.T) {
	t.Setenv("PICKUP_CONFIG_FILE", "")
	t.Setenv("PICKUP_PAGE_SIZE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Pickup.Interval != 10*time.Second {
		t.Fatalf("expected 10s interval, got %s", cfg.Pickup.Interval)
	}
	if cfg.Pickup.PageSize != 100 {
		t.Fatalf("expected page size 100, got %d", cfg.Pickup.PageSize)
	}
	if cfg.Pickup.DispatchTopic != "logic.widedata.dispatch" {
		t.Fatalf("unexpected dispatch topic %q", cfg.Pickup.DispatchTopic)
	}
	if err := cfg.Pickup.Validate(); err != nil {
		t.Fatalf("default pickup config should validate: %v", err)
	}
}

func TestLoadPickupFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pickup.yaml")
	content := []byte("interval: 3s\npage_size: 1000\ninflight_mode: memory\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PICKUP_CONFIG_FILE", path)
	t.Setenv("PICKUP_PAGE_SIZE", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Pickup.Interval != 3*time.Second {
		t.Fatalf("expected interval from file, got %s", cfg.Pickup.Interval)
	}
	if cfg.Pickup.PageSize != 250 {
		t.Fatalf("expected env to override file page size, got %d", cfg.Pickup.PageSize)
	}
	if cfg.Pickup.InFlightMode != InFlightMemory {
		t.Fatalf("expected memory inflight mode, got %q", cfg.Pickup.InFlightMode)
	}
	if cfg.Pickup.ReplyTopic != "logic.widedata.dispatch.reply" {
		t.Fatalf("expected default reply topic to survive overlay, got %q", cfg.Pickup.ReplyTopic)
	}
}

func TestLoadPickupFileMissing(t *testing.T) {
	base := DefaultPickup()
	cfg, err := LoadPickupFile(filepath.Join(t.TempDir(), "missing.yaml"), base)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if cfg != base {
		t.Fatalf("expected base config back on error, got %+v", cfg)
	}
}

func TestLoadRejectsMalformedPickupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pickup.yaml")
	if err := os.WriteFile(path, []byte("page_size: 1000\ninterval: [oops\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PICKUP_CONFIG_FILE", path)

	cfg, err := Load()
	if err == nil {
		t.Fatalf("expected parse error, got config %+v", cfg.Pickup)
	}
	if !strings.Contains(err.Error(), "parsing pickup config") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsUnreadablePickupFile(t *testing.T) {
	t.Setenv("PICKUP_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestPickupValidate(t *testing.T) {
	cases := map[string]func(*PickupConfig){
		"zero interval":    func(p *PickupConfig) { p.Interval = 0 },
		"zero page size":   func(p *PickupConfig) { p.PageSize = 0 },
		"no workers":       func(p *PickupConfig) { p.Workers = -1 },
		"empty topic":      func(p *PickupConfig) { p.DispatchTopic = " " },
		"no timeout":       func(p *PickupConfig) { p.ReplyTimeout = 0 },
		"unknown inflight": func(p *PickupConfig) { p.InFlightMode = "etcd" },
		"short redis ttl": func(p *PickupConfig) {
			p.InFlightMode = InFlightRedis
			p.InFlightTTL = p.ReplyTimeout - time.Second
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultPickup()
			mutate(&p)
			if err := p.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestPickupValidateRedisTTL(t *testing.T) {
	p := DefaultPickup()
	p.InFlightMode = InFlightRedis
	p.InFlightTTL = p.ReplyTimeout
	if err := p.Validate(); err != nil {
		t.Fatalf("ttl equal to reply timeout should validate: %v", err)
	}
}

func TestStringSliceEnvSplitsBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	brokers := getStringSliceEnv("KAFKA_BROKERS", nil)
	if len(brokers) != 2 || brokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", brokers)
	}
}
