package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// ResponseHeaderSize is the fixed prefix of a chunk response:
	// 8-byte offset followed by the 4-byte payload checksum.
	ResponseHeaderSize = 12
	// AckSize is the length of an acknowledgment datagram.
	AckSize = 8
	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507
	// MaxPayloadSize is the largest chunk payload that fits one datagram.
	MaxPayloadSize = MaxDatagramSize - ResponseHeaderSize
)

// Integers travel in the host's byte order. Both ends are built from this
// package, so they agree without negotiation.
var byteOrder = binary.NativeEndian

var (
	// ErrShortResponse indicates a datagram too small to hold a response header.
	ErrShortResponse = errors.New("short chunk response")
	// ErrEmptyPayload indicates a response header with no payload bytes.
	ErrEmptyPayload = errors.New("empty chunk payload")
	// ErrChecksumMismatch indicates a payload whose checksum does not match the header.
	ErrChecksumMismatch = errors.New("chunk checksum mismatch")
	// ErrBufferTooSmall indicates a destination buffer that cannot hold the frame.
	ErrBufferTooSmall = errors.New("buffer too small for frame")
	// ErrBadAck indicates a datagram that is not an acknowledgment.
	ErrBadAck = errors.New("malformed acknowledgment")
)

// ChunkResponse is a decoded server response. Payload aliases the buffer it
// was decoded from.
type ChunkResponse struct {
	Offset   int64
	Checksum uint32
	Payload  []byte
}

// Verify checks the payload against the carried checksum.
func (r ChunkResponse) Verify() error {
	if !VerifyChecksum(r.Checksum, r.Payload) {
		return ErrChecksumMismatch
	}
	return nil
}

// EncodeChunkResponse frames payload for offset into dst and returns the
// number of bytes written. dst must hold ResponseHeaderSize+len(payload).
func EncodeChunkResponse(dst []byte, offset int64, payload []byte) (int, error) {
	n := ResponseHeaderSize + len(payload)
	if len(payload) == 0 {
		return 0, ErrEmptyPayload
	}
	if n > len(dst) || n > MaxDatagramSize {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, n, len(dst))
	}
	byteOrder.PutUint64(dst[0:8], uint64(offset))
	byteOrder.PutUint32(dst[8:12], Checksum(payload))
	copy(dst[ResponseHeaderSize:n], payload)
	return n, nil
}

// DecodeChunkResponse parses a response datagram. It does not verify the
// checksum.
func DecodeChunkResponse(b []byte) (ChunkResponse, error) {
	if len(b) < ResponseHeaderSize {
		return ChunkResponse{}, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(b))
	}
	if len(b) == ResponseHeaderSize {
		return ChunkResponse{}, ErrEmptyPayload
	}
	return ChunkResponse{
		Offset:   int64(byteOrder.Uint64(b[0:8])),
		Checksum: byteOrder.Uint32(b[8:12]),
		Payload:  b[ResponseHeaderSize:],
	}, nil
}

// EncodeAck writes the acknowledgment for offset into dst.
func EncodeAck(dst []byte, offset int64) (int, error) {
	if len(dst) < AckSize {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, AckSize, len(dst))
	}
	byteOrder.PutUint64(dst[:AckSize], uint64(offset))
	return AckSize, nil
}

// DecodeAck parses an acknowledgment datagram.
func DecodeAck(b []byte) (int64, error) {
	if len(b) != AckSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrBadAck, len(b))
	}
	return int64(byteOrder.Uint64(b)), nil
}
