// Package receiver owns the UDP transport adapter: one socket, one
// receive loop, routing between the session machine and the assembly
// table, and delivery of completed frames to the sink.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Pentagram-Sofware/udp-video-receiver/internal/observability"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/assembly"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/session"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/wire"
)

// maxDatagram is the largest datagram the loop will read; protocol
// datagrams stay near the chunk payload bound but the buffer leaves
// room for oversized garbage to be read and rejected whole.
const maxDatagram = 64 * 1024

// Config assembles the transport, session and reassembly settings.
type Config struct {
	RemoteHost string
	RemotePort int
	// LocalPort 0 lets the OS pick; the producer replies to the source
	// port registration arrived from, which is what carries the stream
	// back through NAT without inbound port configuration.
	LocalPort        int
	ReadBufferBytes  int
	WriteBufferBytes int
	// TickInterval bounds socket reads so keepalive and eviction timers
	// run even when no traffic arrives.
	TickInterval time.Duration

	Session  session.Config
	Assembly assembly.Config
	Wire     wire.Limits
}

func DefaultConfig() Config {
	return Config{
		RemotePort:       9999,
		ReadBufferBytes:  4 << 20,
		WriteBufferBytes: 1 << 20,
		TickInterval:     250 * time.Millisecond,
		Session:          session.DefaultConfig(),
		Assembly:         assembly.DefaultConfig(),
		Wire:             wire.DefaultLimits(),
	}
}

// Receiver drives one session over one UDP socket. Create one per
// connection attempt; after Run returns it is spent.
type Receiver struct {
	cfg    Config
	log    zerolog.Logger
	conn   *net.UDPConn
	remote *net.UDPAddr

	sess  *session.Machine
	table *assembly.Table
	sink  FrameSink

	decodeErrors   uint64
	protocolErrors uint64
	lastStats      assembly.Stats

	mu     sync.RWMutex
	health observability.Health
	start  time.Time
}

// New resolves the producer endpoint and binds the local socket.
func New(cfg Config, sink FrameSink, log zerolog.Logger) (*Receiver, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if sink == nil {
		sink = Discard
	}

	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.RemoteHost, cfg.RemotePort))
	if err != nil {
		return nil, fmt.Errorf("receiver: resolve producer: %w", err)
	}

	lc := listenConfig()
	pc, err := lc.ListenPacket(context.Background(), "udp", fmt.Sprintf(":%d", cfg.LocalPort))
	if err != nil {
		return nil, fmt.Errorf("receiver: bind: %w", err)
	}
	conn := pc.(*net.UDPConn)

	if cfg.ReadBufferBytes > 0 {
		if err := conn.SetReadBuffer(cfg.ReadBufferBytes); err != nil {
			log.Warn().Err(err).Msg("udp read buffer not applied")
		}
	}
	if cfg.WriteBufferBytes > 0 {
		if err := conn.SetWriteBuffer(cfg.WriteBufferBytes); err != nil {
			log.Warn().Err(err).Msg("udp write buffer not applied")
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	r := &Receiver{
		cfg:    cfg,
		log:    log,
		conn:   conn,
		remote: remote,
		sess:   session.NewMachine(cfg.Session, rng),
		table:  assembly.NewTable(cfg.Assembly),
		sink:   sink,
	}
	log.Info().
		Stringer("local", conn.LocalAddr()).
		Stringer("producer", remote).
		Msg("receiver bound")
	return r, nil
}

func (r *Receiver) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Health returns the current snapshot; safe for concurrent use.
func (r *Receiver) Health() observability.Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health
}

// Run registers with the producer and receives the stream until the
// session ends or ctx is cancelled. The returned error is nil for clean
// teardown (local stop or remote Disconnect), ErrRegistrationFailed or
// ErrSessionTimeout for session failures, and a wrapped socket error
// for transport failures. Per-datagram errors never surface here.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.conn.Close()

	now := time.Now()
	r.start = now
	r.flush(r.sess.Start(now))
	r.syncStats(now)

	buf := make([]byte, maxDatagram)
	nextTick := now.Add(r.cfg.TickInterval)

	for {
		select {
		case <-ctx.Done():
			r.teardown()
			return nil
		default:
		}

		deadline := nextTick
		if d := time.Now().Add(r.cfg.TickInterval); d.Before(deadline) {
			deadline = d
		}
		if err := r.conn.SetReadDeadline(deadline); err != nil {
			r.teardown()
			return fmt.Errorf("receiver: set read deadline: %w", err)
		}

		n, addr, err := r.conn.ReadFromUDP(buf)
		now = time.Now()
		switch {
		case err == nil:
			r.handleDatagram(buf[:n], addr, now)
		case isTimeout(err):
			// Quiet interval; fall through to the tick.
		case ctx.Err() != nil:
			r.teardown()
			return nil
		default:
			r.teardown()
			return fmt.Errorf("receiver: socket read: %w", err)
		}

		if !now.Before(nextTick) {
			r.flush(r.sess.Tick(now))
			r.table.EvictStale(now)
			r.syncStats(now)
			nextTick = now.Add(r.cfg.TickInterval)
		}

		r.deliverCompleted()

		if r.sess.State() == session.StateDisconnected {
			r.syncStats(now)
			if err := r.sess.Err(); err != nil {
				r.log.Warn().Err(err).Msg("session ended")
				return err
			}
			r.log.Info().Msg("session closed")
			return nil
		}
	}
}

func (r *Receiver) handleDatagram(data []byte, addr *net.UDPAddr, now time.Time) {
	if !addr.IP.Equal(r.remote.IP) || addr.Port != r.remote.Port {
		r.log.Debug().Stringer("from", addr).Msg("datagram from unexpected source dropped")
		return
	}

	msg, err := wire.Decode(data, r.cfg.Wire)
	if err != nil {
		r.decodeErrors++
		observability.RecordDecodeError()
		r.log.Debug().Err(err).Int("bytes", len(data)).Msg("datagram dropped")
		return
	}

	// Every valid message refreshes session liveness.
	r.sess.OnMessage(msg.Kind, now)

	switch msg.Kind {
	case wire.KindFrameStart:
		if err := r.table.BeginFrame(msg.FrameID, msg.TotalSize, msg.ChunkCount, now); err != nil {
			r.protocolErrors++
			r.log.Debug().Err(err).Uint32("frame_id", msg.FrameID).Msg("frame start rejected")
		}
	case wire.KindChunk:
		if err := r.table.ApplyChunk(msg.FrameID, msg.ChunkIndex, msg.Payload, now); err != nil {
			r.protocolErrors++
			r.log.Debug().Err(err).Uint32("frame_id", msg.FrameID).Msg("chunk rejected")
		}
	case wire.KindRegistered:
		r.log.Info().Stringer("producer", r.remote).Msg("registered with producer")
	case wire.KindDisconnect:
		r.log.Info().Msg("producer disconnected")
	}
}

func (r *Receiver) deliverCompleted() {
	for _, f := range r.table.PollCompleted() {
		observability.RecordFrameCompleted(len(f.Payload))
		r.log.Debug().Uint32("frame_id", f.ID).Int("bytes", len(f.Payload)).Msg("frame completed")
		r.sink.OnFrame(f.ID, f.Payload)
	}
}

// flush serializes intents toward the producer. Send failures are not
// fatal: UDP sends fail transiently and the liveness timer is the
// arbiter of a dead path.
func (r *Receiver) flush(intents []wire.Message) {
	for _, m := range intents {
		if _, err := r.conn.WriteToUDP(wire.Encode(m), r.remote); err != nil {
			r.log.Warn().Err(err).Stringer("kind", m.Kind).Msg("send failed")
			continue
		}
		r.log.Debug().Stringer("kind", m.Kind).Msg("sent")
	}
}

func (r *Receiver) teardown() {
	r.flush(r.sess.Stop(time.Now()))
	r.syncStats(time.Now())
}

func (r *Receiver) syncStats(now time.Time) {
	cur := r.table.Stats()
	prev := r.lastStats
	observability.RecordFramesEvicted(cur.FramesEvicted - prev.FramesEvicted)
	observability.RecordDuplicateChunks(cur.DuplicateChunks - prev.DuplicateChunks)
	observability.RecordRejectedChunks(cur.RejectedChunks - prev.RejectedChunks)
	observability.SetPendingFrames(cur.Pending)
	observability.SetSessionState(r.sess.State().String())
	r.lastStats = cur

	uptime := int64(0)
	if !r.start.IsZero() {
		uptime = int64(now.Sub(r.start).Seconds())
	}
	r.mu.Lock()
	r.health = observability.Health{
		SessionState:    r.sess.State().String(),
		FramesCompleted: cur.FramesCompleted,
		FramesEvicted:   cur.FramesEvicted,
		DuplicateChunks: cur.DuplicateChunks,
		RejectedChunks:  cur.RejectedChunks,
		DecodeErrors:    r.decodeErrors,
		PendingFrames:   cur.Pending,
		UptimeSeconds:   uptime,
	}
	r.mu.Unlock()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
