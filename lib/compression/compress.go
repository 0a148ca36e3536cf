// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm used for a chunk. Tags are
// the first byte of every chunk frame. These values are protocol
// constants: changing them breaks every packed image stream.
type Tag uint8

const (
	// None indicates uncompressed data. Used when compression does not
	// shrink a chunk (already-compressed assets, random data).
	None Tag = 0

	// LZ4 indicates LZ4 block compression. Cheap to decode, which
	// matters on the device side of a transfer.
	LZ4 Tag = 1

	// Zstd indicates zstd compression at the default level. Better
	// ratios for code and string tables at a higher decode cost.
	Zstd Tag = 2
)

// String returns the human-readable name of a compression tag.
func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseTag parses a compression tag from its string representation.
// "auto" is not a tag; callers handle it before parsing.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// CompressChunk compresses data using the specified algorithm. For
// None it returns the input unchanged (no copy). Returns an error for
// which IsIncompressible is true when the output would not be smaller
// than the input.
func CompressChunk(data []byte, tag Tag) ([]byte, error) {
	switch tag {
	case None:
		return data, nil
	case LZ4:
		return compressLZ4(data)
	case Zstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// DecompressInto decompresses payload into destination, which must
// hold at least size bytes. The decoded length must equal size
// exactly. destination is never reallocated: the decoded bytes are
// always destination[:size].
func DecompressInto(destination, payload []byte, tag Tag, size int) error {
	if size < 0 {
		return fmt.Errorf("negative uncompressed size %d", size)
	}
	if size > len(destination) {
		return fmt.Errorf("uncompressed size %d exceeds %d-byte buffer", size, len(destination))
	}

	switch tag {
	case None:
		if len(payload) != size {
			return fmt.Errorf("uncompressed chunk: size %d does not match expected %d", len(payload), size)
		}
		copy(destination, payload)
		return nil

	case LZ4:
		read, err := lz4.UncompressBlock(payload, destination[:size])
		if err != nil {
			return fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return nil

	case Zstd:
		result, err := zstdDecoder.DecodeAll(payload, destination[:0:size])
		if err != nil {
			return fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		if size > 0 && unsafe.SliceData(result) != unsafe.SliceData(destination) {
			copy(destination, result)
		}
		return nil

	default:
		return fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// DecompressChunk decompresses into a newly allocated buffer of size
// bytes.
func DecompressChunk(payload []byte, tag Tag, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative uncompressed size %d", size)
	}
	destination := make([]byte, size)
	if err := DecompressInto(destination, payload, tag, size); err != nil {
		return nil, err
	}
	return destination, nil
}

// LZ4 compression: block-mode LZ4.

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

// zstdEncoder and zstdDecoder are shared across calls. Both are safe
// for concurrent use. The decoder's memory ceiling bounds what a
// hostile frame can make the device allocate.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

const zstdMaxDecoderMemory = 64 << 20

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("compression: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(zstdMaxDecoderMemory),
	)
	if err != nil {
		panic("compression: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

// errIncompressible is returned when the compressed output is not
// smaller than the input. The caller should fall back to None.
var errIncompressible = errors.New("data is incompressible")

// IsIncompressible reports whether err indicates that data could not
// be compressed smaller than its original size.
func IsIncompressible(err error) bool {
	return errors.Is(err, errIncompressible)
}

// SelectCompression probes a chunk to pick an algorithm. It tries
// zstd first: a ratio of at least 1.5x selects zstd, 1.1x to 1.5x
// selects LZ4 (cheaper to decode for a modest loss), and anything
// below is sent uncompressed.
func SelectCompression(data []byte) Tag {
	if len(data) == 0 {
		return None
	}

	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))

	switch {
	case ratio >= 1.5:
		return Zstd
	case ratio >= 1.1:
		return LZ4
	default:
		return None
	}
}

// CompressChunkAuto compresses data with the algorithm chosen by
// SelectCompression. Incompressible data comes back unchanged with
// tag None.
func CompressChunkAuto(data []byte) ([]byte, Tag, error) {
	return compressWithFallback(data, SelectCompression(data))
}

func compressWithFallback(data []byte, tag Tag) ([]byte, Tag, error) {
	compressed, err := CompressChunk(data, tag)
	if err != nil {
		if IsIncompressible(err) {
			return data, None, nil
		}
		return nil, 0, err
	}
	return compressed, tag, nil
}
