// receiverctl is the UDP video receiver daemon: it registers with a
// producer, reassembles the chunked stream and hands completed frames
// to the configured sink.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Pentagram-Sofware/udp-video-receiver/internal/config"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/logging"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/observability"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/assembly"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/session"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/wire"
	"github.com/Pentagram-Sofware/udp-video-receiver/internal/receiver"
)

func main() {
	configPath := flag.String("config", "receiver.toml", "path to receiver config")
	flag.Parse()

	log := logging.Runtime("receiverctl")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	sink := receiver.Discard
	if cfg.Receiver.FramesDir != "" {
		dirSink, err := receiver.NewDirSink(cfg.Receiver.FramesDir, log)
		if err != nil {
			log.Fatal().Err(err).Msg("frames dir")
		}
		sink = dirSink
		log.Info().Str("dir", cfg.Receiver.FramesDir).Msg("writing completed frames to disk")
	}

	rcv, err := receiver.New(receiverConfig(cfg), sink, log)
	if err != nil {
		log.Fatal().Err(err).Msg("receiver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var debugSrv *http.Server
	if cfg.Debug.Addr != "" {
		debugSrv = observability.NewDebugServer(cfg.Debug.Addr, cfg.Debug.CorsOrigins, rcv.Health, log)
		go func() {
			log.Info().Str("addr", cfg.Debug.Addr).Msg("debug endpoint listening")
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("debug endpoint failed")
			}
		}()
	}

	if interval := cfg.Receiver.StatsInterval(); interval > 0 {
		go statsLoop(ctx, rcv, interval, log)
	}

	runErr := rcv.Run(ctx)

	if debugSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = debugSrv.Shutdown(shutdownCtx)
	}

	logFinalStats(rcv, log)
	if runErr != nil {
		log.Error().Err(runErr).Msg("receiver stopped")
		os.Exit(1)
	}
}

// statsLoop emits a periodic stats snapshot as a structured log line.
func statsLoop(ctx context.Context, rcv *receiver.Receiver, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := rcv.Health()
			fps := 0.0
			if h.UptimeSeconds > 0 {
				fps = float64(h.FramesCompleted) / float64(h.UptimeSeconds)
			}
			log.Info().
				Str("session", h.SessionState).
				Uint64("frames", h.FramesCompleted).
				Uint64("evicted", h.FramesEvicted).
				Uint64("dup_chunks", h.DuplicateChunks).
				Uint64("decode_errors", h.DecodeErrors).
				Float64("avg_fps", fps).
				Msg("stream stats")
		}
	}
}

func logFinalStats(rcv *receiver.Receiver, log zerolog.Logger) {
	h := rcv.Health()
	fps := 0.0
	if h.UptimeSeconds > 0 {
		fps = float64(h.FramesCompleted) / float64(h.UptimeSeconds)
	}
	log.Info().
		Uint64("frames", h.FramesCompleted).
		Int64("runtime_s", h.UptimeSeconds).
		Float64("avg_fps", fps).
		Msg("final stats")
}

func receiverConfig(cfg config.Config) receiver.Config {
	return receiver.Config{
		RemoteHost:       cfg.Producer.Host,
		RemotePort:       cfg.Producer.Port,
		LocalPort:        cfg.Receiver.BindPort,
		ReadBufferBytes:  cfg.Receiver.ReadBufferBytes,
		WriteBufferBytes: cfg.Receiver.WriteBufferBytes,
		TickInterval:     cfg.Protocol.TickInterval(),
		Session: session.Config{
			RegisterTimeout:   cfg.Protocol.RegisterTimeout(),
			RegisterAttempts:  cfg.Protocol.RegisterAttempts,
			KeepaliveInterval: cfg.Protocol.KeepaliveInterval(),
			LivenessTimeout:   cfg.Protocol.LivenessTimeout(),
			Backoff:           session.DefaultConfig().Backoff,
		},
		Assembly: assembly.Config{
			MaxPendingFrames: cfg.Protocol.MaxPendingFrames,
			MaxFrameBytes:    cfg.Protocol.MaxFrameBytes,
			MaxChunkPayload:  cfg.Protocol.MaxChunkPayload,
			StaleAfter:       cfg.Protocol.FrameStale(),
		},
		Wire: wire.Limits{MaxChunkPayload: cfg.Protocol.MaxChunkPayload},
	}
}
