package receiver

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Pentagram-Sofware/udp-video-receiver/internal/logging"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/session"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/wire"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/testutil/testlog"
)

type collectedFrame struct {
	id      uint32
	payload []byte
}

// fakeProducer stands in for the stream producer on a loopback socket.
type fakeProducer struct {
	t    *testing.T
	conn *net.UDPConn
}

func newFakeProducer(t *testing.T) *fakeProducer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("producer bind: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &fakeProducer{t: t, conn: conn}
}

func (p *fakeProducer) port() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

// awaitRegistration blocks until the receiver's RegisterClient arrives
// and returns the client address to reply to.
func (p *fakeProducer) awaitRegistration() *net.UDPAddr {
	p.t.Helper()
	buf := make([]byte, 64*1024)
	p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			p.t.Fatalf("producer read: %v", err)
		}
		msg, err := wire.Decode(buf[:n], wire.DefaultLimits())
		if err != nil {
			continue
		}
		if msg.Kind == wire.KindRegisterClient {
			return addr
		}
	}
}

func (p *fakeProducer) send(addr *net.UDPAddr, msg wire.Message) {
	p.t.Helper()
	if _, err := p.conn.WriteToUDP(wire.Encode(msg), addr); err != nil {
		p.t.Fatalf("producer send: %v", err)
	}
}

func (p *fakeProducer) sendRaw(addr *net.UDPAddr, data []byte) {
	p.t.Helper()
	if _, err := p.conn.WriteToUDP(data, addr); err != nil {
		p.t.Fatalf("producer send raw: %v", err)
	}
}

func testReceiverConfig(producerPort int) Config {
	cfg := DefaultConfig()
	cfg.RemoteHost = "127.0.0.1"
	cfg.RemotePort = producerPort
	cfg.LocalPort = 0
	cfg.TickInterval = 20 * time.Millisecond
	cfg.Session.RegisterTimeout = 200 * time.Millisecond
	cfg.Session.RegisterAttempts = 3
	cfg.Session.KeepaliveInterval = 100 * time.Millisecond
	cfg.Session.LivenessTimeout = 2 * time.Second
	cfg.Session.Backoff.Jitter = false
	cfg.Session.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Session.Backoff.MaxDelay = 50 * time.Millisecond
	cfg.Assembly.StaleAfter = time.Second
	return cfg
}

func TestEndToEndReassemblyOverLoopback(t *testing.T) {
	testlog.Start(t)
	producer := newFakeProducer(t)

	frames := make(chan collectedFrame, 16)
	sink := SinkFunc(func(id uint32, payload []byte) {
		frames <- collectedFrame{id: id, payload: payload}
	})

	r, err := New(testReceiverConfig(producer.port()), sink, logging.Tests("receiver"))
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}

	runDone := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { runDone <- r.Run(ctx) }()

	client := producer.awaitRegistration()
	producer.send(client, wire.Control(wire.KindRegistered))

	// Garbage first: it must not disturb the following valid sequence.
	producer.sendRaw(client, []byte{0x01, 0x02, 0x03})

	a := bytes.Repeat([]byte{'A'}, 1200)
	b := bytes.Repeat([]byte{'B'}, 1200)
	producer.send(client, wire.FrameStart(7, 2400, 2))
	producer.send(client, wire.Chunk(7, 1, b)) // reverse order
	producer.send(client, wire.Chunk(7, 1, b)) // duplicate, counted no-op
	producer.send(client, wire.Chunk(7, 0, a))

	select {
	case f := <-frames:
		if f.id != 7 || len(f.payload) != 2400 {
			t.Fatalf("unexpected frame: id=%d bytes=%d", f.id, len(f.payload))
		}
		want := append(append([]byte{}, a...), b...)
		if !bytes.Equal(f.payload, want) {
			t.Fatalf("payload mismatch")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("frame never delivered")
	}

	producer.send(client, wire.Control(wire.KindDisconnect))
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run returned %v, want clean disconnect", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after disconnect")
	}

	h := r.Health()
	if h.SessionState != session.StateDisconnected.String() {
		t.Fatalf("health state=%q", h.SessionState)
	}
	if h.FramesCompleted != 1 || h.DecodeErrors != 1 || h.DuplicateChunks != 1 {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestRegistrationFailureSurfaces(t *testing.T) {
	testlog.Start(t)
	// A producer socket that never answers.
	producer := newFakeProducer(t)

	r, err := New(testReceiverConfig(producer.port()), nil, logging.Tests("receiver"))
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = r.Run(ctx)
	if !errors.Is(err, session.ErrRegistrationFailed) {
		t.Fatalf("expected ErrRegistrationFailed, got %v", err)
	}
}

func TestCancelStopsRunPromptly(t *testing.T) {
	testlog.Start(t)
	producer := newFakeProducer(t)

	r, err := New(testReceiverConfig(producer.port()), nil, logging.Tests("receiver"))
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	client := producer.awaitRegistration()
	producer.send(client, wire.Control(wire.KindRegistered))

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run returned %v on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on cancel")
	}
}

func TestKeepalivesReachProducer(t *testing.T) {
	testlog.Start(t)
	producer := newFakeProducer(t)

	r, err := New(testReceiverConfig(producer.port()), nil, logging.Tests("receiver"))
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	client := producer.awaitRegistration()
	producer.send(client, wire.Control(wire.KindRegistered))

	buf := make([]byte, 1024)
	producer.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		n, _, err := producer.conn.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("no keepalive arrived: %v", err)
		}
		msg, err := wire.Decode(buf[:n], wire.DefaultLimits())
		if err != nil {
			continue
		}
		if msg.Kind == wire.KindKeepalive {
			break
		}
	}
	cancel()
	<-runDone
}
