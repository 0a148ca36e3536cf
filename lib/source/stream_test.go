// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/bureau-foundation/dals/lib/codec"
	"github.com/bureau-foundation/dals/lib/compression"
)

// firmwareLike returns compressible bytes resembling a program image.
func firmwareLike(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%16) ^ byte(i/512)
	}
	return data
}

// readAll decodes every chunk of a stream and reassembles the image.
func readAll(t *testing.T, r io.Reader) (Announce, []byte, int) {
	t.Helper()
	stream, err := NewStreamReader(r)
	if err != nil {
		t.Fatalf("NewStreamReader: %v", err)
	}
	var image []byte
	chunks := 0
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks++
		frame, err := compression.ParseFrame(chunk.Frame)
		if err != nil {
			t.Fatalf("ParseFrame: %v", err)
		}
		data, err := compression.DecompressChunk(frame.Payload, frame.Tag, frame.Size)
		if err != nil {
			t.Fatalf("DecompressChunk: %v", err)
		}
		image = append(image, data...)
	}
	return stream.Announce(), image, chunks
}

func TestWriteStreamRoundtrip(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		chunkSize  int
		options    StreamOptions
		wantChunks int
	}{
		{"exact multiple", 4096, 1024, StreamOptions{Tag: compression.LZ4}, 4},
		{"partial last chunk", 5000, 1024, StreamOptions{Tag: compression.Zstd}, 5},
		{"single chunk", 100, 1024, StreamOptions{Auto: true}, 1},
		{"uncompressed", 3000, 512, StreamOptions{Tag: compression.None}, 6},
		{"empty image", 0, 512, StreamOptions{Auto: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			image := firmwareLike(tt.size)
			options := tt.options
			options.ChunkSize = tt.chunkSize
			options.Name = "sensors/blink"

			var buffer bytes.Buffer
			stats, err := WriteStream(&buffer, image, options)
			if err != nil {
				t.Fatalf("WriteStream: %v", err)
			}
			if stats.Chunks != tt.wantChunks {
				t.Errorf("stats.Chunks = %d, want %d", stats.Chunks, tt.wantChunks)
			}
			if stats.LargestFrame > RawBufferSize(tt.chunkSize) {
				t.Errorf("largest frame %d exceeds RawBufferSize %d", stats.LargestFrame, RawBufferSize(tt.chunkSize))
			}

			announce, decoded, chunks := readAll(t, &buffer)
			if announce.Size != tt.size || announce.Name != "sensors/blink" || announce.ChunkSize != tt.chunkSize {
				t.Errorf("announce = %+v", announce)
			}
			if chunks != tt.wantChunks {
				t.Errorf("chunks read = %d, want %d", chunks, tt.wantChunks)
			}
			if !bytes.Equal(decoded, image) {
				t.Error("reassembled image differs")
			}
		})
	}
}

func TestStreamReaderTruncated(t *testing.T) {
	var buffer bytes.Buffer
	if _, err := WriteStream(&buffer, firmwareLike(4096), StreamOptions{ChunkSize: 1024, Tag: compression.None}); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	truncated := buffer.Bytes()[:buffer.Len()/2]

	stream, err := NewStreamReader(bytes.NewReader(truncated))
	if err != nil {
		t.Fatalf("NewStreamReader: %v", err)
	}
	for {
		_, err := stream.Next()
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("Next error = %v, want ErrTruncated", err)
		}
		return
	}
}

func TestNewStreamReaderErrors(t *testing.T) {
	encode := func(v any) []byte {
		data, err := codec.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong version", encode(Announce{Version: 7, Size: 1, ChunkSize: 1})},
		{"negative size", encode(Announce{Version: StreamVersion, Size: -1, ChunkSize: 1})},
		{"zero chunk size", encode(Announce{Version: StreamVersion, Size: 10})},
		{"garbage", []byte{0xff, 0x00, 0x13}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStreamReader(bytes.NewReader(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWriteStreamRejectsBadChunkSize(t *testing.T) {
	if _, err := WriteStream(io.Discard, []byte("x"), StreamOptions{}); err == nil {
		t.Error("zero chunk size should fail")
	}
}
