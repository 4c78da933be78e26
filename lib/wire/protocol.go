// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the framed event-stream protocol that lets
// external tools tail the bus over a Unix socket. A connection opens
// with a Hello frame, replays retained history as one compressed
// Backlog frame, then streams live events one frame each for as long
// as the client keeps up.
//
// The package is organized around the stream's two ends:
//
//   - protocol.go: frame format (type byte, compression byte, length,
//     CBOR payload) and the handshake payload types
//   - compress.go: payload compression tags and codecs
//   - server.go: socket listener, per-connection fan-out from the bus
//   - client.go: connect, handshake, and frame iteration
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dirigent-project/dirigent/lib/event"
)

// ProtocolVersion is the stream protocol version carried in the
// Hello frame. Clients reject versions they do not speak.
const ProtocolVersion = 1

// FrameType identifies a frame's meaning. Each frame is a 6-byte
// header (1 byte type + 1 byte compression tag + 4 byte big-endian
// payload length) followed by the payload.
type FrameType byte

const (
	// FrameHello is the first frame on every connection,
	// server to client. Payload is a CBOR Hello.
	FrameHello FrameType = 0x01

	// FrameEvent carries one live event. Payload is one CBOR
	// event.Event. Always sent uncompressed.
	FrameEvent FrameType = 0x02

	// FrameBacklog carries the retained history snapshot, sent once
	// after Hello. Payload is a CBOR Backlog, zstd-compressed by
	// default.
	FrameBacklog FrameType = 0x03

	// FrameError reports a fatal stream error. Payload is a CBOR
	// ErrorPayload; the sender closes the connection afterwards.
	FrameError FrameType = 0x04

	// FramePing requests a liveness check, client to server.
	// Payload is empty.
	FramePing FrameType = 0x05

	// FramePong answers a ping. Payload is empty.
	FramePong FrameType = 0x06
)

// String returns the frame type's wire name.
func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameEvent:
		return "event"
	case FrameBacklog:
		return "backlog"
	case FrameError:
		return "error"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// frameHeaderLength is the fixed size of a frame header: 1 byte type
// + 1 byte compression tag + 4 bytes payload length.
const frameHeaderLength = 6

// maxPayloadLength is the maximum allowed payload size, applied to
// both the on-wire bytes and the declared uncompressed size. 16 MB
// is generous; a full 500-event backlog is typically under 1 MB.
const maxPayloadLength = 16 * 1024 * 1024

// compressMinSize is the payload size below which WriteCompressedFrame
// skips compression entirely. Tiny payloads never shrink enough to
// pay for the extra size prefix.
const compressMinSize = 512

// Frame is a single decoded protocol frame. Payload holds the
// decompressed bytes regardless of how the frame traveled.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Hello is the handshake payload sent as a connection's first frame.
type Hello struct {
	// Version is the server's ProtocolVersion.
	Version int `cbor:"version"`

	// HistorySize is the number of events in the Backlog frame that
	// follows.
	HistorySize int `cbor:"history_size"`
}

// Backlog is the payload of a FrameBacklog frame: the events the bus
// retained at connect time, oldest first.
type Backlog struct {
	Events []event.Event `cbor:"events"`
}

// ErrorPayload is the payload of a FrameError frame.
type ErrorPayload struct {
	Message string `cbor:"message"`
}

// WriteFrame writes an uncompressed frame to w. The format is:
// [1 byte type] [1 byte compression] [4 bytes length, big-endian]
// [payload].
func WriteFrame(w io.Writer, frameType FrameType, payload []byte) error {
	return writeRaw(w, frameType, CompressionNone, payload)
}

// WriteCompressedFrame writes a frame whose payload is compressed
// with the given tag. Compressed payloads carry a 4-byte big-endian
// uncompressed-size prefix ahead of the compressed bytes so readers
// can allocate exactly. Payloads that are too small or that do not
// shrink are sent uncompressed; this is transparent to the reader.
func WriteCompressedFrame(w io.Writer, frameType FrameType, payload []byte, tag CompressionTag) error {
	if tag == CompressionNone || len(payload) < compressMinSize {
		return writeRaw(w, frameType, CompressionNone, payload)
	}

	compressed, err := compressPayload(payload, tag)
	if err != nil {
		if errors.Is(err, errIncompressible) {
			return writeRaw(w, frameType, CompressionNone, payload)
		}
		return err
	}

	framed := make([]byte, 4+len(compressed))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(payload)))
	copy(framed[4:], compressed)
	return writeRaw(w, frameType, tag, framed)
}

func writeRaw(w io.Writer, frameType FrameType, tag CompressionTag, payload []byte) error {
	if len(payload) > maxPayloadLength {
		return fmt.Errorf("wire: payload length %d exceeds maximum %d", len(payload), maxPayloadLength)
	}

	var header [frameHeaderLength]byte
	header[0] = byte(frameType)
	header[1] = byte(tag)
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("wire: write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame from r and returns it with the payload
// decompressed. It fails if the stream is malformed, the payload
// exceeds maxPayloadLength (on the wire or after decompression), or
// the compression tag is unknown.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame header: %w", err)
	}

	frameType := FrameType(header[0])
	tag := CompressionTag(header[1])
	payloadLength := binary.BigEndian.Uint32(header[2:6])
	if payloadLength > maxPayloadLength {
		return Frame{}, fmt.Errorf("wire: payload length %d exceeds maximum %d", payloadLength, maxPayloadLength)
	}

	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("wire: read frame payload: %w", err)
		}
	}

	if tag == CompressionNone {
		return Frame{Type: frameType, Payload: payload}, nil
	}

	if len(payload) < 4 {
		return Frame{}, fmt.Errorf("wire: compressed frame too short: %d bytes", len(payload))
	}
	uncompressedSize := binary.BigEndian.Uint32(payload[:4])
	if uncompressedSize > maxPayloadLength {
		return Frame{}, fmt.Errorf("wire: uncompressed length %d exceeds maximum %d", uncompressedSize, maxPayloadLength)
	}

	decompressed, err := decompressPayload(payload[4:], tag, int(uncompressedSize))
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Payload: decompressed}, nil
}
