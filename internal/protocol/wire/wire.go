// Package wire implements the datagram codec for the chunked video
// streaming protocol.
//
// Ownership boundary:
// - message tags and fixed header layout
// - encode/decode of the six datagram kinds
//
// The codec is pure: no socket I/O, no session state. Checks that need
// FrameStart context (chunk_index < chunk_count) live in the assembly
// table, since the FrameStart that carries chunk_count may never arrive.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var be = binary.BigEndian

// Message tags. Bare control messages are exactly their tag; FrameStart
// and Chunk carry fixed-width big-endian fields after theirs.
const (
	TagRegisterClient = "REGISTER_CLIENT"
	TagRegistered     = "REGISTERED"
	TagKeepalive      = "KEEPALIVE"
	TagDisconnect     = "DISCONNECT"
	TagFrameStart     = "FRAME_START"
	TagChunk          = "CHUNK"
)

const (
	frameStartHeaderLen = len(TagFrameStart) + 12 // frame_id + total_size + chunk_count
	chunkHeaderLen      = len(TagChunk) + 8       // frame_id + chunk_index

	// DefaultMaxChunkPayload keeps one Chunk datagram under the common
	// 1500-byte MTU with headroom for IP/UDP headers.
	DefaultMaxChunkPayload = 1200
)

var (
	ErrTooShort          = errors.New("wire: datagram too short")
	ErrUnknownTag        = errors.New("wire: unknown message tag")
	ErrPayloadExceedsMax = errors.New("wire: chunk payload exceeds maximum")
)

// Kind discriminates the closed set of protocol messages.
type Kind uint8

const (
	KindRegisterClient Kind = iota
	KindRegistered
	KindKeepalive
	KindDisconnect
	KindFrameStart
	KindChunk
)

func (k Kind) String() string {
	switch k {
	case KindRegisterClient:
		return "register_client"
	case KindRegistered:
		return "registered"
	case KindKeepalive:
		return "keepalive"
	case KindDisconnect:
		return "disconnect"
	case KindFrameStart:
		return "frame_start"
	case KindChunk:
		return "chunk"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is one parsed datagram. FrameID/TotalSize/ChunkCount are set
// for FrameStart, FrameID/ChunkIndex/Payload for Chunk, nothing for the
// control kinds.
type Message struct {
	Kind       Kind
	FrameID    uint32
	TotalSize  uint32
	ChunkCount uint32
	ChunkIndex uint32
	Payload    []byte
}

// Limits constrains decode memory use.
type Limits struct {
	MaxChunkPayload int
}

func DefaultLimits() Limits {
	return Limits{MaxChunkPayload: DefaultMaxChunkPayload}
}

// Control builds a field-less message of the given kind.
func Control(k Kind) Message {
	return Message{Kind: k}
}

// FrameStart builds a frame announcement message.
func FrameStart(frameID, totalSize, chunkCount uint32) Message {
	return Message{Kind: KindFrameStart, FrameID: frameID, TotalSize: totalSize, ChunkCount: chunkCount}
}

// Chunk builds one frame fragment message. The payload is aliased, not
// copied.
func Chunk(frameID, chunkIndex uint32, payload []byte) Message {
	return Message{Kind: KindChunk, FrameID: frameID, ChunkIndex: chunkIndex, Payload: payload}
}

// Decode parses one datagram. The returned Payload aliases data and is
// only valid until the caller reuses the receive buffer; the assembly
// table copies it into the frame buffer before the next read.
//
// Trailing bytes after a complete FrameStart header are ignored, which
// keeps the decoder compatible with producers that pad the announcement.
func Decode(data []byte, limits Limits) (Message, error) {
	switch {
	case bytes.HasPrefix(data, []byte(TagFrameStart)):
		if len(data) < frameStartHeaderLen {
			return Message{}, fmt.Errorf("%w: frame_start header: %d bytes", ErrTooShort, len(data))
		}
		body := data[len(TagFrameStart):]
		return FrameStart(be.Uint32(body[0:4]), be.Uint32(body[4:8]), be.Uint32(body[8:12])), nil

	case bytes.HasPrefix(data, []byte(TagChunk)):
		if len(data) < chunkHeaderLen {
			return Message{}, fmt.Errorf("%w: chunk header: %d bytes", ErrTooShort, len(data))
		}
		body := data[len(TagChunk):]
		payload := data[chunkHeaderLen:]
		max := limits.MaxChunkPayload
		if max <= 0 {
			max = DefaultMaxChunkPayload
		}
		if len(payload) > max {
			return Message{}, fmt.Errorf("%w: %d > %d", ErrPayloadExceedsMax, len(payload), max)
		}
		return Chunk(be.Uint32(body[0:4]), be.Uint32(body[4:8]), payload), nil

	case bytes.Equal(data, []byte(TagRegisterClient)):
		return Control(KindRegisterClient), nil
	case bytes.Equal(data, []byte(TagRegistered)):
		return Control(KindRegistered), nil
	case bytes.Equal(data, []byte(TagKeepalive)):
		return Control(KindKeepalive), nil
	case bytes.Equal(data, []byte(TagDisconnect)):
		return Control(KindDisconnect), nil
	}

	if len(data) == 0 {
		return Message{}, fmt.Errorf("%w: empty datagram", ErrTooShort)
	}
	return Message{}, fmt.Errorf("%w: % x", ErrUnknownTag, data[:min(len(data), 8)])
}

// Encode serializes msg to one datagram. The layout matches Decode on
// every host: fixed-width big-endian integers, never native struct
// memory.
func Encode(msg Message) []byte {
	switch msg.Kind {
	case KindRegisterClient:
		return []byte(TagRegisterClient)
	case KindRegistered:
		return []byte(TagRegistered)
	case KindKeepalive:
		return []byte(TagKeepalive)
	case KindDisconnect:
		return []byte(TagDisconnect)
	case KindFrameStart:
		buf := make([]byte, frameStartHeaderLen)
		n := copy(buf, TagFrameStart)
		be.PutUint32(buf[n:n+4], msg.FrameID)
		be.PutUint32(buf[n+4:n+8], msg.TotalSize)
		be.PutUint32(buf[n+8:n+12], msg.ChunkCount)
		return buf
	case KindChunk:
		buf := make([]byte, chunkHeaderLen, chunkHeaderLen+len(msg.Payload))
		n := copy(buf, TagChunk)
		be.PutUint32(buf[n:n+4], msg.FrameID)
		be.PutUint32(buf[n+4:n+8], msg.ChunkIndex)
		return append(buf, msg.Payload...)
	default:
		return nil
	}
}
