package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Sequence.FrameDurationMS != 50 {
		t.Fatalf("expected 50ms frames, got %d", cfg.Sequence.FrameDurationMS)
	}
	if cfg.Fixtures.StateSlots != 9 {
		t.Fatalf("expected nine state slots, got %d", cfg.Fixtures.StateSlots)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facesync.yaml")
	doc := `runtime_name: porch
fixtures:
  directory: /srv/models
  default_state: Happy
sequence:
  frame_duration_ms: 25
  channel_mode: fixture
timing:
  mode: exec
  command: "speechmarks --voice Joanna"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "porch" || cfg.Fixtures.Directory != "/srv/models" || cfg.Fixtures.DefaultState != "Happy" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Sequence.FrameDurationMS != 25 || cfg.Sequence.ChannelMode != "fixture" {
		t.Fatalf("unexpected sequence config %+v", cfg.Sequence)
	}
	if cfg.Sequence.DefaultDurationMS != 5000 {
		t.Fatalf("expected default duration to survive partial file, got %d", cfg.Sequence.DefaultDurationMS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_MAX_RUNS", "123")
	t.Setenv("LOQA_FIXTURES_DIRECTORY", "/tmp/models")
	t.Setenv("LOQA_FIXTURES_STATE_SLOTS", "16")
	t.Setenv("LOQA_SEQUENCE_FRAME_DURATION_MS", "40")
	t.Setenv("LOQA_TIMING_EXPAND_WORDS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides")
	}
	if cfg.EventStore.MaxRuns != 123 {
		t.Fatalf("expected max runs override")
	}
	if cfg.Fixtures.Directory != "/tmp/models" || cfg.Fixtures.StateSlots != 16 {
		t.Fatalf("expected fixtures overrides, got %+v", cfg.Fixtures)
	}
	if cfg.Sequence.FrameDurationMS != 40 {
		t.Fatalf("expected frame duration override")
	}
	if !cfg.Timing.ExpandWords {
		t.Fatalf("expected expand words override")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero frame duration": func(c *Config) { c.Sequence.FrameDurationMS = 0 },
		"bad channel mode":    func(c *Config) { c.Sequence.ChannelMode = "universe" },
		"exec without cmd":    func(c *Config) { c.Timing.Mode = "exec" },
		"unknown timing mode": func(c *Config) { c.Timing.Mode = "polly" },
		"no state slots":      func(c *Config) { c.Fixtures.StateSlots = 0 },
		"bad retention":       func(c *Config) { c.EventStore.RetentionMode = "forever" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
