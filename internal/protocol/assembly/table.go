package assembly

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/eapache/queue"

	"github.com/Pentagram-Sofware/udp-video-receiver/internal/protocol/wire"
)

var (
	// ErrFrameTooLarge rejects a FrameStart whose declared size or chunk
	// count exceeds the configured maximums. Nothing is allocated.
	ErrFrameTooLarge = errors.New("assembly: declared frame exceeds maximum")
	// ErrFrameInconsistent rejects a FrameStart whose declared size and
	// chunk count cannot describe the same frame.
	ErrFrameInconsistent = errors.New("assembly: declared size and chunk count disagree")
	// ErrChunkOutOfRange rejects a chunk whose index or payload length
	// does not fit the frame it addresses. The frame buffer is untouched.
	ErrChunkOutOfRange = errors.New("assembly: chunk out of range")
)

// Config bounds the table's memory use.
type Config struct {
	// MaxPendingFrames caps concurrently resident in-flight frames;
	// inserting past it evicts the oldest.
	MaxPendingFrames int
	// MaxFrameBytes caps any single frame allocation, declared or
	// provisional.
	MaxFrameBytes int
	// MaxChunkPayload is the per-chunk payload bound; chunk_index maps
	// to buffer offset chunk_index*MaxChunkPayload.
	MaxChunkPayload int
	// MaxChunksPerFrame caps chunk indices the table will track. Zero
	// derives it from MaxFrameBytes/MaxChunkPayload.
	MaxChunksPerFrame int
	// StaleAfter ages out incomplete frames; this is the designed
	// packet-loss degradation.
	StaleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPendingFrames: 4,
		MaxFrameBytes:    8 << 20,
		MaxChunkPayload:  wire.DefaultMaxChunkPayload,
		StaleAfter:       5 * time.Second,
	}
}

// CompletedFrame is one fully reassembled frame payload.
type CompletedFrame struct {
	ID      uint32
	Payload []byte
}

// Stats is the table's health surface.
type Stats struct {
	FramesCompleted uint64
	FramesEvicted   uint64
	DuplicateChunks uint64
	RejectedChunks  uint64
	RejectedStarts  uint64
	Pending         int
}

type pendingFrame struct {
	id          uint32
	provisional bool

	totalSize  int
	chunkCount int

	buf    []byte
	bitmap []uint64

	received      int
	bytesReceived int
	maxEnd        int
	maxIndex      int

	firstSeen time.Time
	seq       uint64
}

func (f *pendingFrame) has(i int) bool {
	return f.bitmap[i/64]&(1<<uint(i%64)) != 0
}

func (f *pendingFrame) mark(i int) {
	f.bitmap[i/64] |= 1 << uint(i%64)
	if i > f.maxIndex {
		f.maxIndex = i
	}
}

// Table tracks in-flight frames keyed by frame id. Frame ids are
// producer-assigned, non-contiguous and may wrap; the table never
// assumes ordering between them.
type Table struct {
	cfg       Config
	maxChunks int

	frames    map[uint32]*pendingFrame
	completed *queue.Queue

	stats Stats
	seq   uint64
}

func NewTable(cfg Config) *Table {
	if cfg.MaxPendingFrames <= 0 {
		cfg.MaxPendingFrames = DefaultConfig().MaxPendingFrames
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultConfig().MaxFrameBytes
	}
	if cfg.MaxChunkPayload <= 0 {
		cfg.MaxChunkPayload = DefaultConfig().MaxChunkPayload
	}
	maxChunks := cfg.MaxChunksPerFrame
	if maxChunks <= 0 {
		maxChunks = (cfg.MaxFrameBytes + cfg.MaxChunkPayload - 1) / cfg.MaxChunkPayload
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}
	return &Table{
		cfg:       cfg,
		maxChunks: maxChunks,
		frames:    make(map[uint32]*pendingFrame, cfg.MaxPendingFrames),
		completed: queue.New(),
	}
}

// BeginFrame registers a frame announcement. A duplicate FrameStart for
// a known declared frame is a no-op; one for a provisionally created
// frame upgrades it in place. Empty frames complete immediately.
func (t *Table) BeginFrame(id, totalSize, chunkCount uint32, now time.Time) error {
	if totalSize == 0 || chunkCount == 0 {
		delete(t.frames, id)
		t.completed.Add(CompletedFrame{ID: id, Payload: []byte{}})
		t.stats.FramesCompleted++
		return nil
	}
	cp := uint64(t.cfg.MaxChunkPayload)
	if int64(totalSize) > int64(t.cfg.MaxFrameBytes) || int64(chunkCount) > int64(t.maxChunks) {
		t.stats.RejectedStarts++
		return fmt.Errorf("%w: size=%d chunks=%d", ErrFrameTooLarge, totalSize, chunkCount)
	}
	if uint64(totalSize) > uint64(chunkCount)*cp || uint64(totalSize) <= uint64(chunkCount-1)*cp {
		t.stats.RejectedStarts++
		return fmt.Errorf("%w: size=%d chunks=%d payload=%d", ErrFrameInconsistent, totalSize, chunkCount, cp)
	}

	if f := t.frames[id]; f != nil {
		if !f.provisional {
			return nil
		}
		t.upgrade(f, int(totalSize), int(chunkCount))
		return nil
	}

	t.ensureRoom()
	t.seq++
	f := &pendingFrame{
		id:         id,
		totalSize:  int(totalSize),
		chunkCount: int(chunkCount),
		buf:        make([]byte, totalSize),
		bitmap:     make([]uint64, (chunkCount+63)/64),
		maxIndex:   -1,
		firstSeen:  now,
		seq:        t.seq,
	}
	t.frames[id] = f
	return nil
}

// upgrade applies a late-arriving FrameStart to a frame created from an
// early chunk. Provisional content inconsistent with the declaration is
// discarded; the loss shows up as the frame never completing on its own.
func (t *Table) upgrade(f *pendingFrame, totalSize, chunkCount int) {
	if f.maxIndex >= chunkCount || f.maxEnd > totalSize {
		f.buf = make([]byte, totalSize)
		f.bitmap = make([]uint64, (chunkCount+63)/64)
		f.received = 0
		f.bytesReceived = 0
		f.maxEnd = 0
		f.maxIndex = -1
	} else {
		buf := make([]byte, totalSize)
		copy(buf, f.buf)
		f.buf = buf
	}
	f.totalSize = totalSize
	f.chunkCount = chunkCount
	f.provisional = false
	if f.received == f.chunkCount && f.bytesReceived == f.totalSize {
		t.promote(f)
	}
}

// ApplyChunk copies one fragment into its frame buffer. An unknown
// frame id creates a provisional frame, so a lost FrameStart does not
// lose the frame. Duplicate indices are counted no-ops. A chunk that
// trails a completed or evicted frame is indistinguishable from a first
// chunk and lands in a provisional entry that ages out on its own.
func (t *Table) ApplyChunk(id, index uint32, payload []byte, now time.Time) error {
	if int64(index) >= int64(t.maxChunks) {
		t.stats.RejectedChunks++
		return fmt.Errorf("%w: index=%d max=%d", ErrChunkOutOfRange, index, t.maxChunks)
	}
	cp := t.cfg.MaxChunkPayload
	idx := int(index)
	offset := idx * cp
	end := offset + len(payload)

	f := t.frames[id]
	if f == nil {
		if end > t.cfg.MaxFrameBytes {
			t.stats.RejectedChunks++
			return fmt.Errorf("%w: index=%d implies %d bytes", ErrChunkOutOfRange, index, end)
		}
		t.ensureRoom()
		t.seq++
		f = &pendingFrame{
			id:          id,
			provisional: true,
			buf:         make([]byte, end),
			bitmap:      make([]uint64, (t.maxChunks+63)/64),
			maxIndex:    -1,
			firstSeen:   now,
			seq:         t.seq,
		}
		t.frames[id] = f
	}

	if !f.provisional && idx >= f.chunkCount {
		t.stats.RejectedChunks++
		return fmt.Errorf("%w: index=%d declared=%d", ErrChunkOutOfRange, index, f.chunkCount)
	}
	if f.has(idx) {
		t.stats.DuplicateChunks++
		return nil
	}

	if f.provisional {
		if end > t.cfg.MaxFrameBytes {
			t.stats.RejectedChunks++
			return fmt.Errorf("%w: index=%d implies %d bytes", ErrChunkOutOfRange, index, end)
		}
		if end > len(f.buf) {
			buf := make([]byte, end)
			copy(buf, f.buf)
			f.buf = buf
		}
	} else {
		expected := cp
		if idx == f.chunkCount-1 {
			expected = f.totalSize - offset
		}
		if len(payload) != expected {
			t.stats.RejectedChunks++
			return fmt.Errorf("%w: index=%d payload=%d expected=%d", ErrChunkOutOfRange, index, len(payload), expected)
		}
	}

	copy(f.buf[offset:end], payload)
	f.mark(idx)
	f.received++
	f.bytesReceived += len(payload)
	if end > f.maxEnd {
		f.maxEnd = end
	}

	if !f.provisional && f.received == f.chunkCount && f.bytesReceived == f.totalSize {
		t.promote(f)
	}
	return nil
}

// PollCompleted drains frames that finished since the last poll. Within
// one batch frames surface in increasing frame id; across batches the
// order is completion order, so a frame that lost chunks surfaces after
// later frames that completed first.
func (t *Table) PollCompleted() []CompletedFrame {
	n := t.completed.Length()
	if n == 0 {
		return nil
	}
	out := make([]CompletedFrame, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, t.completed.Remove().(CompletedFrame))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EvictStale drops frames older than StaleAfter, then enforces the
// residency bound oldest-first. Evicted incomplete frames are discarded
// silently.
func (t *Table) EvictStale(now time.Time) {
	for id, f := range t.frames {
		if now.Sub(f.firstSeen) >= t.cfg.StaleAfter {
			delete(t.frames, id)
			t.stats.FramesEvicted++
		}
	}
	for len(t.frames) > t.cfg.MaxPendingFrames {
		t.evictOldest()
	}
}

func (t *Table) Stats() Stats {
	s := t.stats
	s.Pending = len(t.frames)
	return s
}

func (t *Table) promote(f *pendingFrame) {
	delete(t.frames, f.id)
	t.completed.Add(CompletedFrame{ID: f.id, Payload: f.buf[:f.totalSize]})
	t.stats.FramesCompleted++
}

func (t *Table) ensureRoom() {
	for len(t.frames) >= t.cfg.MaxPendingFrames {
		t.evictOldest()
	}
}

func (t *Table) evictOldest() {
	var oldest *pendingFrame
	for _, f := range t.frames {
		if oldest == nil || f.seq < oldest.seq {
			oldest = f
		}
	}
	if oldest == nil {
		return
	}
	delete(t.frames, oldest.id)
	t.stats.FramesEvicted++
}
