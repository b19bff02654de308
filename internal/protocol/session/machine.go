package session

import (
	"errors"
	"math/rand"
	"time"

	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/wire"
)

var (
	// ErrRegistrationFailed reports handshake retry exhaustion.
	ErrRegistrationFailed = errors.New("session: registration failed")
	// ErrSessionTimeout reports a liveness timeout in the active state.
	ErrSessionTimeout = errors.New("session: liveness timeout")
)

// State is the session lifecycle position.
type State uint8

const (
	StateUnregistered State = iota
	StateRegistering
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Machine drives one session instance. StateDisconnected is terminal:
// reconnecting takes a fresh Machine. Not safe for concurrent use; one
// logical owner drives it, per the transport's single receive loop.
type Machine struct {
	cfg Config
	rng *rand.Rand

	state       State
	err         error
	attempt     int
	regDeadline time.Time

	lastSent     time.Time
	lastReceived time.Time
}

// NewMachine builds an unregistered session. rng feeds retry jitter and
// may be nil for deterministic behavior.
func NewMachine(cfg Config, rng *rand.Rand) *Machine {
	return &Machine{cfg: cfg, rng: rng, state: StateUnregistered}
}

func (m *Machine) State() State { return m.state }

// Err reports why the session reached StateDisconnected. It is nil for
// clean teardown (local Stop or a remote Disconnect).
func (m *Machine) Err() error { return m.err }

// Start begins the registration handshake and returns the RegisterClient
// intent. Calling it in any state but StateUnregistered is a no-op.
func (m *Machine) Start(now time.Time) []wire.Message {
	if m.state != StateUnregistered {
		return nil
	}
	m.state = StateRegistering
	m.attempt = 1
	m.lastSent = now
	m.lastReceived = now
	m.regDeadline = now.Add(m.cfg.RegisterTimeout)
	return []wire.Message{wire.Control(wire.KindRegisterClient)}
}

// OnMessage feeds one received message kind into the machine. Every
// message refreshes liveness; Registered completes the handshake and
// Disconnect tears the session down.
func (m *Machine) OnMessage(kind wire.Kind, now time.Time) {
	if m.state == StateDisconnected {
		return
	}
	m.lastReceived = now
	switch kind {
	case wire.KindRegistered:
		if m.state == StateRegistering {
			m.state = StateActive
		}
	case wire.KindDisconnect:
		m.state = StateDisconnected
	}
}

// Tick advances the timers. It returns retry or keepalive intents and
// moves the machine to StateDisconnected on registration exhaustion or
// liveness timeout.
func (m *Machine) Tick(now time.Time) []wire.Message {
	switch m.state {
	case StateRegistering:
		if now.Before(m.regDeadline) {
			return nil
		}
		if m.attempt >= m.cfg.RegisterAttempts {
			m.state = StateDisconnected
			m.err = ErrRegistrationFailed
			return nil
		}
		m.attempt++
		m.lastSent = now
		m.regDeadline = now.Add(m.cfg.RegisterTimeout + m.cfg.Backoff.Delay(m.attempt, m.rng))
		return []wire.Message{wire.Control(wire.KindRegisterClient)}

	case StateActive:
		if now.Sub(m.lastReceived) >= m.cfg.LivenessTimeout {
			m.state = StateDisconnected
			m.err = ErrSessionTimeout
			return nil
		}
		if now.Sub(m.lastSent) >= m.cfg.KeepaliveInterval {
			m.lastSent = now
			return []wire.Message{wire.Control(wire.KindKeepalive)}
		}
	}
	return nil
}

// Stop tears the session down locally and returns the Disconnect intent
// so the producer can drop the subscription instead of waiting out the
// keepalive window.
func (m *Machine) Stop(now time.Time) []wire.Message {
	if m.state == StateDisconnected {
		return nil
	}
	m.state = StateDisconnected
	m.lastSent = now
	return []wire.Message{wire.Control(wire.KindDisconnect)}
}
