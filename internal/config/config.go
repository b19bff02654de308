// Package config owns the receiver's TOML configuration surface.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full receiver configuration file.
type Config struct {
	Producer ProducerConfig `toml:"producer"`
	Receiver ReceiverConfig `toml:"receiver"`
	Protocol ProtocolConfig `toml:"protocol"`
	Debug    DebugConfig    `toml:"debug"`
}

// ProducerConfig locates the stream producer.
type ProducerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ReceiverConfig covers the local socket and frame delivery.
type ReceiverConfig struct {
	// BindPort is the local UDP port; 0 lets the OS assign one. The
	// producer replies to whatever source port registration came from.
	BindPort int `toml:"bind_port"`
	// FramesDir receives one file per completed frame when set; empty
	// discards payloads after counting them.
	FramesDir        string `toml:"frames_dir"`
	ReadBufferBytes  int    `toml:"read_buffer_bytes"`
	WriteBufferBytes int    `toml:"write_buffer_bytes"`
	// StatsIntervalMS is the cadence of the periodic stats log line; 0
	// disables it.
	StatsIntervalMS int `toml:"stats_interval_ms"`
}

// ProtocolConfig carries the session and reassembly timings. All
// durations are milliseconds.
type ProtocolConfig struct {
	RegisterTimeoutMS   int `toml:"register_timeout_ms"`
	RegisterAttempts    int `toml:"register_attempts"`
	KeepaliveIntervalMS int `toml:"keepalive_interval_ms"`
	LivenessTimeoutMS   int `toml:"liveness_timeout_ms"`
	FrameStaleMS        int `toml:"frame_stale_ms"`
	TickIntervalMS      int `toml:"tick_interval_ms"`
	MaxPendingFrames    int `toml:"max_pending_frames"`
	MaxChunkPayload     int `toml:"max_chunk_payload"`
	MaxFrameBytes       int `toml:"max_frame_bytes"`
}

// DebugConfig controls the optional debug/metrics HTTP endpoint.
type DebugConfig struct {
	// Addr serves /health and /metrics when non-empty, e.g. ":9100".
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

// Default returns the config the daemon runs with when a field is left
// out of the file. Timings follow the producer's 5s keepalive cadence.
func Default() Config {
	return Config{
		Producer: ProducerConfig{Port: 9999},
		Receiver: ReceiverConfig{
			BindPort:         9999,
			ReadBufferBytes:  4 << 20,
			WriteBufferBytes: 1 << 20,
			StatsIntervalMS:  5000,
		},
		Protocol: ProtocolConfig{
			RegisterTimeoutMS:   5000,
			RegisterAttempts:    5,
			KeepaliveIntervalMS: 5000,
			LivenessTimeoutMS:   15000,
			FrameStaleMS:        5000,
			TickIntervalMS:      250,
			MaxPendingFrames:    4,
			MaxChunkPayload:     1200,
			MaxFrameBytes:       8 << 20,
		},
	}
}

// Load reads path, fills defaults for absent fields and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Producer.Host) == "" {
		return fmt.Errorf("config missing producer.host")
	}
	if cfg.Producer.Port <= 0 || cfg.Producer.Port > 65535 {
		return fmt.Errorf("config invalid producer.port: %d", cfg.Producer.Port)
	}
	if cfg.Receiver.BindPort < 0 || cfg.Receiver.BindPort > 65535 {
		return fmt.Errorf("config invalid receiver.bind_port: %d", cfg.Receiver.BindPort)
	}
	p := cfg.Protocol
	for _, f := range []struct {
		name  string
		value int
	}{
		{"protocol.register_timeout_ms", p.RegisterTimeoutMS},
		{"protocol.register_attempts", p.RegisterAttempts},
		{"protocol.keepalive_interval_ms", p.KeepaliveIntervalMS},
		{"protocol.liveness_timeout_ms", p.LivenessTimeoutMS},
		{"protocol.frame_stale_ms", p.FrameStaleMS},
		{"protocol.tick_interval_ms", p.TickIntervalMS},
		{"protocol.max_pending_frames", p.MaxPendingFrames},
		{"protocol.max_chunk_payload", p.MaxChunkPayload},
		{"protocol.max_frame_bytes", p.MaxFrameBytes},
	} {
		if f.value <= 0 {
			return fmt.Errorf("config %s must be positive, got %d", f.name, f.value)
		}
	}
	if p.LivenessTimeoutMS <= p.KeepaliveIntervalMS {
		return fmt.Errorf("config protocol.liveness_timeout_ms must exceed keepalive_interval_ms")
	}
	if p.MaxChunkPayload > p.MaxFrameBytes {
		return fmt.Errorf("config protocol.max_chunk_payload exceeds max_frame_bytes")
	}
	return nil
}

// Durations converted once at the config boundary.

func (p ProtocolConfig) RegisterTimeout() time.Duration   { return ms(p.RegisterTimeoutMS) }
func (p ProtocolConfig) KeepaliveInterval() time.Duration { return ms(p.KeepaliveIntervalMS) }
func (p ProtocolConfig) LivenessTimeout() time.Duration   { return ms(p.LivenessTimeoutMS) }
func (p ProtocolConfig) FrameStale() time.Duration        { return ms(p.FrameStaleMS) }
func (p ProtocolConfig) TickInterval() time.Duration      { return ms(p.TickIntervalMS) }

func (r ReceiverConfig) StatsInterval() time.Duration { return ms(r.StatsIntervalMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
