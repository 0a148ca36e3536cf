// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// codeLike returns data shaped like a firmware text section: short
// repeating instruction patterns with a slowly varying operand.
func codeLike(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		switch i % 8 {
		case 0:
			data[i] = 0x2d
		case 1:
			data[i] = 0xe9
		case 2, 3:
			data[i] = byte(i / 64)
		default:
			data[i] = byte(i % 8)
		}
	}
	return data
}

func TestTagString(t *testing.T) {
	tests := []struct {
		tag  Tag
		want string
	}{
		{None, "none"},
		{LZ4, "lz4"},
		{Zstd, "zstd"},
		{Tag(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.tag.String(); got != tt.want {
				t.Errorf("Tag(%d).String() = %q, want %q", tt.tag, got, tt.want)
			}
		})
	}
}

func TestParseTag(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		t.Run(name, func(t *testing.T) {
			tag, err := ParseTag(name)
			if err != nil {
				t.Fatalf("ParseTag(%q) failed: %v", name, err)
			}
			if tag.String() != name {
				t.Errorf("roundtrip: ParseTag(%q).String() = %q", name, tag.String())
			}
		})
	}

	if _, err := ParseTag("gzip"); err == nil {
		t.Error("ParseTag(\"gzip\") should fail")
	}
}

func TestCompressDecompress(t *testing.T) {
	data := codeLike(16 * 1024)

	for _, tag := range []Tag{None, LZ4, Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := CompressChunk(data, tag)
			if err != nil {
				t.Fatalf("CompressChunk: %v", err)
			}
			if tag != None && len(compressed) >= len(data) {
				t.Errorf("compressed %d bytes to %d", len(data), len(compressed))
			}

			decompressed, err := DecompressChunk(compressed, tag, len(data))
			if err != nil {
				t.Fatalf("DecompressChunk: %v", err)
			}
			if !bytes.Equal(decompressed, data) {
				t.Error("roundtrip mismatch")
			}
		})
	}
}

func TestDecompressIntoUsesDestination(t *testing.T) {
	data := codeLike(4096)

	for _, tag := range []Tag{None, LZ4, Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := CompressChunk(data, tag)
			if err != nil {
				t.Fatalf("CompressChunk: %v", err)
			}

			// Oversized destination: the tail must be left alone.
			destination := bytes.Repeat([]byte{0xAA}, len(data)+64)
			if err := DecompressInto(destination, compressed, tag, len(data)); err != nil {
				t.Fatalf("DecompressInto: %v", err)
			}
			if !bytes.Equal(destination[:len(data)], data) {
				t.Error("decoded bytes not in destination")
			}
			for i, b := range destination[len(data):] {
				if b != 0xAA {
					t.Fatalf("byte %d past size overwritten: %#x", len(data)+i, b)
				}
			}
		})
	}
}

func TestDecompressIntoSizeErrors(t *testing.T) {
	data := codeLike(1024)

	t.Run("destination too small", func(t *testing.T) {
		compressed, err := CompressChunk(data, LZ4)
		if err != nil {
			t.Fatalf("CompressChunk: %v", err)
		}
		if err := DecompressInto(make([]byte, 512), compressed, LZ4, len(data)); err == nil {
			t.Error("expected error for undersized destination")
		}
	})

	t.Run("none length mismatch", func(t *testing.T) {
		if err := DecompressInto(make([]byte, 64), []byte("short"), None, 10); err == nil {
			t.Error("expected error for mismatched uncompressed size")
		}
	})

	t.Run("zstd declared size wrong", func(t *testing.T) {
		compressed, err := CompressChunk(data, Zstd)
		if err != nil {
			t.Fatalf("CompressChunk: %v", err)
		}
		if err := DecompressInto(make([]byte, 2048), compressed, Zstd, 512); err == nil {
			t.Error("expected error when zstd output exceeds declared size")
		}
	})

	t.Run("lz4 declared size wrong", func(t *testing.T) {
		compressed, err := CompressChunk(data, LZ4)
		if err != nil {
			t.Fatalf("CompressChunk: %v", err)
		}
		if err := DecompressInto(make([]byte, 2048), compressed, LZ4, 2048); err == nil {
			t.Error("expected error when lz4 output is shorter than declared")
		}
	})

	t.Run("negative size", func(t *testing.T) {
		if _, err := DecompressChunk(nil, None, -1); err == nil {
			t.Error("expected error for negative size")
		}
	})
}

func TestCompressIncompressible(t *testing.T) {
	data := make([]byte, 4096)
	rand.Read(data)

	for _, tag := range []Tag{LZ4, Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			_, err := CompressChunk(data, tag)
			if !IsIncompressible(err) {
				t.Fatalf("CompressChunk(random, %s) error = %v, want incompressible", tag, err)
			}
		})
	}
}

func TestSelectCompression(t *testing.T) {
	if tag := SelectCompression(nil); tag != None {
		t.Errorf("SelectCompression(empty) = %s, want none", tag)
	}

	if tag := SelectCompression(make([]byte, 64*1024)); tag != Zstd {
		t.Errorf("SelectCompression(zeros) = %s, want zstd", tag)
	}

	random := make([]byte, 64*1024)
	rand.Read(random)
	if tag := SelectCompression(random); tag != None {
		t.Errorf("SelectCompression(random) = %s, want none", tag)
	}
}

func TestCompressChunkAutoFallback(t *testing.T) {
	data := make([]byte, 4096)
	rand.Read(data)

	compressed, tag, err := CompressChunkAuto(data)
	if err != nil {
		t.Fatalf("CompressChunkAuto: %v", err)
	}
	if tag != None {
		t.Errorf("tag = %s, want none for random data", tag)
	}
	if !bytes.Equal(compressed, data) {
		t.Error("fallback should return the input unchanged")
	}
}

func TestUnsupportedTag(t *testing.T) {
	if _, err := CompressChunk([]byte("x"), Tag(99)); err == nil {
		t.Error("CompressChunk with tag 99 should fail")
	}
	if _, err := DecompressChunk([]byte("x"), Tag(99), 1); err == nil {
		t.Error("DecompressChunk with tag 99 should fail")
	}
}

func BenchmarkDecompressIntoLZ4(b *testing.B) {
	data := codeLike(64 * 1024)
	compressed, err := CompressChunk(data, LZ4)
	if err != nil {
		b.Fatal(err)
	}
	destination := make([]byte, len(data))
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for b.Loop() {
		if err := DecompressInto(destination, compressed, LZ4, len(data)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecompressIntoZstd(b *testing.B) {
	data := codeLike(64 * 1024)
	compressed, err := CompressChunk(data, Zstd)
	if err != nil {
		b.Fatal(err)
	}
	destination := make([]byte, len(data))
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for b.Loop() {
		if err := DecompressInto(destination, compressed, Zstd, len(data)); err != nil {
			b.Fatal(err)
		}
	}
}
