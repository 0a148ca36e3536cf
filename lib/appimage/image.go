// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package appimage

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/bureau-foundation/dals/lib/codec"
)

const (
	// Magic opens every image.
	Magic = "DALS"

	// FormatVersion is the only header version this package reads
	// and writes.
	FormatVersion = 1

	// FixedHeaderSize is the size of the binary header that precedes
	// the metadata block.
	FixedHeaderSize = 16

	// MaxFooterSize bounds the footer block. A digest footer is well
	// under 100 bytes; anything larger is malformed.
	MaxFooterSize = 1024
)

var (
	// ErrMalformed is returned for an image whose layout is
	// inconsistent or whose blocks do not decode.
	ErrMalformed = errors.New("appimage: malformed image")

	// ErrDigestMismatch is returned by Verify when the recomputed
	// digest differs from the footer.
	ErrDigestMismatch = errors.New("appimage: digest mismatch")
)

// Header is the fixed 16-byte image header.
type Header struct {
	Version      uint16
	HeaderSize   uint16
	TotalSize    uint32
	FooterOffset uint32
}

// Metadata describes the application. Authorization policy matches on
// Name.
type Metadata struct {
	Name    string `cbor:"name"`
	Version string `cbor:"version,omitempty"`

	// MinimumRAM is the RAM in bytes the application needs at run
	// time.
	MinimumRAM uint32 `cbor:"min_ram,omitempty"`
}

// Footer carries the integrity digest.
type Footer struct {
	Algorithm Algorithm `cbor:"alg"`
	Digest    []byte    `cbor:"digest"`
}

// Image is a parsed image located at Base in some byte store.
type Image struct {
	Header   Header
	Metadata Metadata
	Footer   Footer

	// Base is the offset of the image's first byte in the store it
	// was read from.
	Base int
}

// BodyOffset returns the offset of the program body relative to the
// image start.
func (h Header) BodyOffset() int { return int(h.HeaderSize) }

// BodySize returns the program body length.
func (h Header) BodySize() int { return int(h.FooterOffset) - int(h.HeaderSize) }

// Marshal encodes the header.
func (h Header) Marshal() []byte {
	buffer := make([]byte, FixedHeaderSize)
	copy(buffer, Magic)
	binary.LittleEndian.PutUint16(buffer[4:], h.Version)
	binary.LittleEndian.PutUint16(buffer[6:], h.HeaderSize)
	binary.LittleEndian.PutUint32(buffer[8:], h.TotalSize)
	binary.LittleEndian.PutUint32(buffer[12:], h.FooterOffset)
	return buffer
}

// ParseHeader decodes and validates the fixed header at the start of
// data. It checks internal consistency only; compare TotalSize with
// the expected image length separately.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < FixedHeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is too short for a header", ErrMalformed, len(data))
	}
	if string(data[:4]) != Magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrMalformed, data[:4])
	}
	header := Header{
		Version:      binary.LittleEndian.Uint16(data[4:]),
		HeaderSize:   binary.LittleEndian.Uint16(data[6:]),
		TotalSize:    binary.LittleEndian.Uint32(data[8:]),
		FooterOffset: binary.LittleEndian.Uint32(data[12:]),
	}
	if header.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: unsupported format version %d", ErrMalformed, header.Version)
	}
	if header.HeaderSize <= FixedHeaderSize {
		return Header{}, fmt.Errorf("%w: header size %d leaves no room for metadata", ErrMalformed, header.HeaderSize)
	}
	if header.FooterOffset < uint32(header.HeaderSize) {
		return Header{}, fmt.Errorf("%w: footer offset %d inside header (%d bytes)",
			ErrMalformed, header.FooterOffset, header.HeaderSize)
	}
	if header.TotalSize <= header.FooterOffset {
		return Header{}, fmt.Errorf("%w: total size %d leaves no room for a footer at %d",
			ErrMalformed, header.TotalSize, header.FooterOffset)
	}
	if header.TotalSize-header.FooterOffset > MaxFooterSize {
		return Header{}, fmt.Errorf("%w: %d-byte footer exceeds %d",
			ErrMalformed, header.TotalSize-header.FooterOffset, MaxFooterSize)
	}
	return header, nil
}

// Build assembles an image around body. The digest is computed with
// algorithm over everything before the footer.
func Build(metadata Metadata, body []byte, algorithm Algorithm) ([]byte, error) {
	if metadata.Name == "" {
		return nil, errors.New("appimage: metadata name is required")
	}
	if algorithm.Size() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}

	encodedMetadata, err := codec.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	headerSize := FixedHeaderSize + len(encodedMetadata)
	if headerSize > math.MaxUint16 {
		return nil, fmt.Errorf("appimage: metadata too large (%d bytes)", len(encodedMetadata))
	}
	footerOffset := headerSize + len(body)

	// The footer encoding has a fixed size for a given algorithm, so
	// the total size can be written into the header before hashing.
	placeholder, err := codec.Marshal(Footer{Algorithm: algorithm, Digest: make([]byte, algorithm.Size())})
	if err != nil {
		return nil, fmt.Errorf("encoding footer: %w", err)
	}
	totalSize := footerOffset + len(placeholder)
	if uint64(totalSize) > math.MaxUint32 {
		return nil, fmt.Errorf("appimage: image too large (%d bytes)", totalSize)
	}

	header := Header{
		Version:      FormatVersion,
		HeaderSize:   uint16(headerSize),
		TotalSize:    uint32(totalSize),
		FooterOffset: uint32(footerOffset),
	}

	image := make([]byte, 0, totalSize)
	image = append(image, header.Marshal()...)
	image = append(image, encodedMetadata...)
	image = append(image, body...)

	hasher, err := NewHasher(algorithm)
	if err != nil {
		return nil, err
	}
	hasher.Write(image)

	footer, err := codec.Marshal(Footer{Algorithm: algorithm, Digest: hasher.Sum(nil)})
	if err != nil {
		return nil, fmt.Errorf("encoding footer: %w", err)
	}
	if len(footer) != len(placeholder) {
		return nil, fmt.Errorf("appimage: footer encoding changed size (%d != %d)", len(footer), len(placeholder))
	}
	return append(image, footer...), nil
}

// Read parses the image of length bytes at base in r. The header's
// total size must equal length. Read does not verify the digest.
func Read(r io.ReaderAt, base, length int) (*Image, error) {
	if base < 0 || length < FixedHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes at offset %d cannot hold an image", ErrMalformed, length, base)
	}

	fixed := make([]byte, FixedHeaderSize)
	if err := readFull(r, fixed, base); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header, err := ParseHeader(fixed)
	if err != nil {
		return nil, err
	}
	if int64(header.TotalSize) != int64(length) {
		return nil, fmt.Errorf("%w: header declares %d bytes, loaded %d", ErrMalformed, header.TotalSize, length)
	}

	image := &Image{Header: header, Base: base}

	metadataBlock := make([]byte, int(header.HeaderSize)-FixedHeaderSize)
	if err := readFull(r, metadataBlock, base+FixedHeaderSize); err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	if err := codec.Unmarshal(metadataBlock, &image.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}
	if image.Metadata.Name == "" {
		return nil, fmt.Errorf("%w: metadata has no name", ErrMalformed)
	}

	footerBlock := make([]byte, header.TotalSize-header.FooterOffset)
	if err := readFull(r, footerBlock, base+int(header.FooterOffset)); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if err := codec.Unmarshal(footerBlock, &image.Footer); err != nil {
		return nil, fmt.Errorf("%w: footer: %v", ErrMalformed, err)
	}
	if size := image.Footer.Algorithm.Size(); size == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, image.Footer.Algorithm)
	} else if len(image.Footer.Digest) != size {
		return nil, fmt.Errorf("%w: %d-byte %s digest", ErrMalformed, len(image.Footer.Digest), image.Footer.Algorithm)
	}
	return image, nil
}

// Covered returns a reader over the bytes the footer digest covers.
func (image *Image) Covered(r io.ReaderAt) *io.SectionReader {
	return io.NewSectionReader(r, int64(image.Base), int64(image.Header.FooterOffset))
}

// Verify recomputes the digest over the covered bytes in r and
// compares it with the footer in constant time.
func (image *Image) Verify(r io.ReaderAt) error {
	digest, err := Digest(image.Footer.Algorithm, image.Covered(r))
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(digest, image.Footer.Digest) != 1 {
		return fmt.Errorf("%w: %s digest of %q", ErrDigestMismatch, image.Footer.Algorithm, image.Metadata.Name)
	}
	return nil
}

func readFull(r io.ReaderAt, buffer []byte, offset int) error {
	n, err := r.ReadAt(buffer, int64(offset))
	if n == len(buffer) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}
