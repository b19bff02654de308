package session

import "time"

// BackoffConfig defines registration retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines session reliability timings.
type Config struct {
	// RegisterTimeout is how long one RegisterClient attempt may wait
	// for a Registered reply.
	RegisterTimeout time.Duration
	// RegisterAttempts bounds handshake retries before the session is
	// declared failed.
	RegisterAttempts int
	// KeepaliveInterval is the maximum quiet period on the send path;
	// exceeding it emits a Keepalive. It also refreshes the NAT binding
	// the producer replies through.
	KeepaliveInterval time.Duration
	// LivenessTimeout disconnects the session when nothing at all has
	// been received for this long.
	LivenessTimeout time.Duration
	Backoff         BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		RegisterTimeout:   5 * time.Second,
		RegisterAttempts:  5,
		KeepaliveInterval: 5 * time.Second,
		LivenessTimeout:   15 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}
