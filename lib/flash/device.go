// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flash

import (
	"errors"
	"io"
)

// Erased is the value of every byte in freshly erased flash.
const Erased byte = 0xFF

// Device is fixed-size byte-addressed storage. ReadAt and WriteAt
// follow the io.ReaderAt and io.WriterAt contracts. WriteAt past Size
// is an error, never a partial write.
type Device interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the device capacity in bytes.
	Size() int64

	// Sync makes completed writes durable.
	Sync() error
}

var (
	// ErrOutOfRange is returned for an access that does not fit
	// inside the device or region.
	ErrOutOfRange = errors.New("flash: access out of range")

	// ErrNotErased is returned by a MemoryDevice in NOR mode when a
	// write would have to set a programmed bit back to 1.
	ErrNotErased = errors.New("flash: programming over unerased bits")
)

func inRange(offset, length, size int64) bool {
	return offset >= 0 && length >= 0 && offset <= size && length <= size-offset
}
