// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/dals/lib/codec"
	"github.com/bureau-foundation/dals/lib/compression"
)

// StreamVersion is written into every Announce.
const StreamVersion = 1

// ErrTruncated is returned when a stream ends before its final chunk.
var ErrTruncated = errors.New("source: stream ended before the final chunk")

// Announce opens a transfer stream.
type Announce struct {
	Version int `cbor:"v"`

	// Size is the decompressed image size: the value passed to
	// StartLoading.
	Size int `cbor:"size"`

	// Name is informational; policy decisions use the metadata inside
	// the image.
	Name string `cbor:"name,omitempty"`

	// ChunkSize is the largest decompressed chunk in the stream. A
	// receiver sizes its buffers from it.
	ChunkSize int `cbor:"chunk"`
}

// Chunk is one transfer record.
type Chunk struct {
	Frame []byte `cbor:"frame"`
	Final bool   `cbor:"final,omitempty"`
}

// StreamOptions controls WriteStream.
type StreamOptions struct {
	// ChunkSize is the decompressed size of every chunk but the last.
	ChunkSize int

	// Tag compresses every chunk with one algorithm. Ignored when
	// Auto is set.
	Tag compression.Tag

	// Auto picks an algorithm per chunk.
	Auto bool

	Name string
}

// StreamStats summarizes a written stream.
type StreamStats struct {
	Chunks          int
	ImageBytes      int
	FrameBytes      int
	ChunksPerTag    map[compression.Tag]int
	LargestFrame    int
	RawBufferNeeded int
}

// RawBufferSize returns the raw buffer size that holds any frame of a
// stream written with chunkSize.
func RawBufferSize(chunkSize int) int {
	return chunkSize + compression.MaxFrameHeader
}

// WriteStream writes image to w as a transfer stream. An empty image
// is sent as a single empty final chunk.
func WriteStream(w io.Writer, image []byte, options StreamOptions) (StreamStats, error) {
	if options.ChunkSize <= 0 {
		return StreamStats{}, fmt.Errorf("source: chunk size must be positive, got %d", options.ChunkSize)
	}

	encoder := codec.NewEncoder(w)
	announce := Announce{
		Version:   StreamVersion,
		Size:      len(image),
		Name:      options.Name,
		ChunkSize: options.ChunkSize,
	}
	if err := encoder.Encode(announce); err != nil {
		return StreamStats{}, fmt.Errorf("writing announce: %w", err)
	}

	stats := StreamStats{
		ImageBytes:      len(image),
		ChunksPerTag:    make(map[compression.Tag]int),
		RawBufferNeeded: RawBufferSize(options.ChunkSize),
	}
	for offset := 0; ; offset += options.ChunkSize {
		end := min(offset+options.ChunkSize, len(image))
		frame, tag, err := compression.CompressFrame(image[offset:end], options.Tag, options.Auto)
		if err != nil {
			return stats, fmt.Errorf("compressing chunk at offset %d: %w", offset, err)
		}
		final := end == len(image)
		if err := encoder.Encode(Chunk{Frame: frame, Final: final}); err != nil {
			return stats, fmt.Errorf("writing chunk at offset %d: %w", offset, err)
		}

		stats.Chunks++
		stats.FrameBytes += len(frame)
		stats.ChunksPerTag[tag]++
		stats.LargestFrame = max(stats.LargestFrame, len(frame))
		if final {
			return stats, nil
		}
	}
}

// StreamReader reads a transfer stream record by record.
type StreamReader struct {
	decoder  *codec.Decoder
	announce Announce
	finished bool
}

// NewStreamReader reads and checks the Announce record.
func NewStreamReader(r io.Reader) (*StreamReader, error) {
	decoder := codec.NewDecoder(r)
	var announce Announce
	if err := decoder.Decode(&announce); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("source: empty stream: %w", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("source: reading announce: %w", err)
	}
	if announce.Version != StreamVersion {
		return nil, fmt.Errorf("source: unsupported stream version %d", announce.Version)
	}
	if announce.Size < 0 || announce.ChunkSize <= 0 {
		return nil, fmt.Errorf("source: invalid announce (size %d, chunk %d)", announce.Size, announce.ChunkSize)
	}
	return &StreamReader{decoder: decoder, announce: announce}, nil
}

// Announce returns the stream's opening record.
func (s *StreamReader) Announce() Announce { return s.announce }

// Next returns the next chunk. After the final chunk it returns
// io.EOF. A stream that ends early returns ErrTruncated.
func (s *StreamReader) Next() (Chunk, error) {
	if s.finished {
		return Chunk{}, io.EOF
	}
	var chunk Chunk
	if err := s.decoder.Decode(&chunk); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Chunk{}, ErrTruncated
		}
		return Chunk{}, fmt.Errorf("source: reading chunk: %w", err)
	}
	if chunk.Final {
		s.finished = true
	}
	return chunk, nil
}
