package receiver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FrameSink consumes completed frame payloads in completion order. The
// payload length equals the frame's declared total size exactly; the
// sink owns the slice after the call.
type FrameSink interface {
	OnFrame(frameID uint32, payload []byte)
}

// SinkFunc adapts a function to FrameSink.
type SinkFunc func(frameID uint32, payload []byte)

func (f SinkFunc) OnFrame(frameID uint32, payload []byte) { f(frameID, payload) }

// Discard drops every payload.
var Discard FrameSink = SinkFunc(func(uint32, []byte) {})

// DirSink writes each completed frame payload to its own file, the
// debug path for inspecting received frames without a decoder attached.
type DirSink struct {
	dir string
	log zerolog.Logger
}

func NewDirSink(dir string, log zerolog.Logger) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("receiver: frames dir: %w", err)
	}
	return &DirSink{dir: dir, log: log}, nil
}

func (s *DirSink) OnFrame(frameID uint32, payload []byte) {
	path := filepath.Join(s.dir, fmt.Sprintf("frame_%010d.bin", frameID))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		s.log.Error().Err(err).Uint32("frame_id", frameID).Msg("frame write failed")
	}
}
