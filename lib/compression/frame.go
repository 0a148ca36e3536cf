// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame is one self-describing compressed chunk. On the wire:
//
//	[tag: 1 byte][uncompressed size: uvarint][payload]
//
// The uncompressed size lets the device pick (and bound) the output
// buffer before decoding, which LZ4 block mode requires anyway.
type Frame struct {
	Tag     Tag
	Size    int
	Payload []byte
}

// MaxFrameHeader is the largest possible frame header.
const MaxFrameHeader = 1 + binary.MaxVarintLen64

// ErrShortFrame is returned by ParseFrame for input too short to hold
// a frame header.
var ErrShortFrame = errors.New("compression: frame truncated")

// EncodeFrame serializes a frame. The payload is copied.
func EncodeFrame(tag Tag, size int, payload []byte) []byte {
	frame := make([]byte, 0, MaxFrameHeader+len(payload))
	frame = append(frame, byte(tag))
	frame = binary.AppendUvarint(frame, uint64(size))
	return append(frame, payload...)
}

// ParseFrame splits a serialized frame into its parts. The returned
// Payload aliases data.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < 2 {
		return Frame{}, ErrShortFrame
	}
	tag := Tag(data[0])
	switch tag {
	case None, LZ4, Zstd:
	default:
		return Frame{}, fmt.Errorf("compression: frame has unsupported tag %d", data[0])
	}

	size, read := binary.Uvarint(data[1:])
	if read <= 0 {
		return Frame{}, fmt.Errorf("%w: bad size varint", ErrShortFrame)
	}
	if size > uint64(int(^uint(0)>>1)) {
		return Frame{}, fmt.Errorf("compression: frame size %d overflows int", size)
	}

	return Frame{
		Tag:     tag,
		Size:    int(size),
		Payload: data[1+read:],
	}, nil
}

// CompressFrame compresses data with tag and frames the result. A
// chunk that does not shrink is framed uncompressed. Pass auto=true to
// let SelectCompression choose the algorithm.
func CompressFrame(data []byte, tag Tag, auto bool) ([]byte, Tag, error) {
	var (
		payload []byte
		used    Tag
		err     error
	)
	if auto {
		payload, used, err = CompressChunkAuto(data)
	} else {
		payload, used, err = compressWithFallback(data, tag)
	}
	if err != nil {
		return nil, 0, err
	}
	return EncodeFrame(used, len(data), payload), used, nil
}
