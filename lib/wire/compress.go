// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression applied to a frame
// payload. The tag travels in the second header byte, so these
// values are protocol constants.
type CompressionTag uint8

const (
	// CompressionNone indicates an uncompressed payload. Single
	// event frames stay uncompressed: they are small and latency
	// matters more than bytes on a local socket.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. Cheap to
	// decode; accepted anywhere a compressed frame is legal.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd at the default level. The
	// backlog frame uses it: history snapshots are JSON-shaped CBOR
	// and compress well.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression tag from its string
// representation.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("wire: unknown compression tag %q", name)
	}
}

// errIncompressible reports that compressing would not shrink the
// data. Writers fall back to CompressionNone when they see it.
var errIncompressible = errors.New("wire: data is incompressible")

// compressPayload compresses data with the given algorithm. It
// returns errIncompressible when the output would be at least as
// large as the input.
func compressPayload(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionLZ4:
		return compressLZ4(data)
	case CompressionZstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("wire: unsupported compression tag: %d", tag)
	}
}

// decompressPayload reverses compressPayload. uncompressedSize must
// match the original length exactly; a mismatch is an error.
func decompressPayload(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionLZ4:
		return decompressLZ4(compressed, uncompressedSize)
	case CompressionZstd:
		return decompressZstd(compressed, uncompressedSize)
	default:
		return nil, fmt.Errorf("wire: unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible. The written >= len(data) case covers inputs
	// that technically compress but do not shrink.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("wire: lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("wire: lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, 0, uncompressedSize)
	result, err := zstdDecoder.DecodeAll(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("wire: zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("wire: zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
