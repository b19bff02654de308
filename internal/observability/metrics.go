// Package observability exposes the receiver's health surface:
// prometheus metrics plus an optional debug HTTP endpoint.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "uvr",
			Subsystem: "assembly",
			Name:      "frames_completed_total",
			Help:      "Frames fully reassembled and delivered to the sink.",
		},
	)
	frameBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "uvr",
			Subsystem: "assembly",
			Name:      "frame_bytes_total",
			Help:      "Payload bytes delivered to the sink.",
		},
	)
	framesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "uvr",
			Subsystem: "assembly",
			Name:      "frames_evicted_total",
			Help:      "Incomplete frames discarded by staleness or table pressure.",
		},
	)
	duplicateChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "uvr",
			Subsystem: "assembly",
			Name:      "duplicate_chunks_total",
			Help:      "Chunks ignored because their index was already received.",
		},
	)
	rejectedChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "uvr",
			Subsystem: "assembly",
			Name:      "rejected_chunks_total",
			Help:      "Chunks rejected for index or length violations.",
		},
	)
	pendingFrames = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "uvr",
			Subsystem: "assembly",
			Name:      "pending_frames",
			Help:      "In-flight frames currently resident in the table.",
		},
	)
	decodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "uvr",
			Subsystem: "wire",
			Name:      "decode_errors_total",
			Help:      "Datagrams dropped because they failed to decode.",
		},
	)
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "uvr",
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state (1 for the active label).",
		},
		[]string{"state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesCompleted, frameBytes, framesEvicted,
			duplicateChunks, rejectedChunks, pendingFrames,
			decodeErrors, sessionState,
		)
	})
}

func RecordFrameCompleted(bytes int) {
	RegisterMetrics()
	framesCompleted.Inc()
	frameBytes.Add(float64(bytes))
}

func RecordFramesEvicted(n uint64) {
	RegisterMetrics()
	framesEvicted.Add(float64(n))
}

func RecordDuplicateChunks(n uint64) {
	RegisterMetrics()
	duplicateChunks.Add(float64(n))
}

func RecordRejectedChunks(n uint64) {
	RegisterMetrics()
	rejectedChunks.Add(float64(n))
}

func SetPendingFrames(n int) {
	RegisterMetrics()
	pendingFrames.Set(float64(n))
}

func RecordDecodeError() {
	RegisterMetrics()
	decodeErrors.Inc()
}

var sessionStates = []string{"unregistered", "registering", "active", "disconnected"}

func SetSessionState(state string) {
	RegisterMetrics()
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}
