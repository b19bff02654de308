package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Pentagram-Sofware/udp-video-receiver/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receiver.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[producer]
host = "192.168.1.50"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Producer.Host != "192.168.1.50" {
		t.Fatalf("host=%q", cfg.Producer.Host)
	}
	if cfg.Producer.Port != 9999 {
		t.Fatalf("default port=%d", cfg.Producer.Port)
	}
	if cfg.Protocol.MaxChunkPayload != 1200 {
		t.Fatalf("default chunk payload=%d", cfg.Protocol.MaxChunkPayload)
	}
	if got := cfg.Protocol.KeepaliveInterval(); got != 5*time.Second {
		t.Fatalf("keepalive=%v", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[producer]
host = "10.0.0.2"
port = 8888

[receiver]
bind_port = 0
frames_dir = "/tmp/frames"

[protocol]
keepalive_interval_ms = 2000
liveness_timeout_ms = 9000
max_pending_frames = 8

[debug]
addr = ":9100"
cors_origins = ["http://localhost:3000"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Producer.Port != 8888 || cfg.Receiver.BindPort != 0 {
		t.Fatalf("ports: %+v", cfg)
	}
	if cfg.Protocol.MaxPendingFrames != 8 {
		t.Fatalf("max pending=%d", cfg.Protocol.MaxPendingFrames)
	}
	if cfg.Debug.Addr != ":9100" || len(cfg.Debug.CorsOrigins) != 1 {
		t.Fatalf("debug: %+v", cfg.Debug)
	}
}

func TestValidateRejections(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Producer.Host = " " }},
		{"bad port", func(c *Config) { c.Producer.Port = 70000 }},
		{"zero attempts", func(c *Config) { c.Protocol.RegisterAttempts = 0 }},
		{"liveness under keepalive", func(c *Config) { c.Protocol.LivenessTimeoutMS = 1000 }},
		{"chunk beyond frame", func(c *Config) {
			c.Protocol.MaxChunkPayload = 1 << 24
		}},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Producer.Host = "10.0.0.2"
		tc.mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
