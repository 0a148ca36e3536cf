// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flash

import (
	"fmt"
	"io"
	"sync"
)

// MemoryDevice is a RAM-backed Device. It starts fully erased.
//
// With NOR set, WriteAt behaves like programming NOR flash: a write
// may only clear bits, and one that needs a 0 bit to become 1 fails
// with ErrNotErased and leaves the device unchanged. Erase restores a
// range to 0xFF.
type MemoryDevice struct {
	nor bool

	mu     sync.RWMutex
	data   []byte
	writes int
}

// NewMemoryDevice returns an erased device of size bytes.
func NewMemoryDevice(size int, nor bool) *MemoryDevice {
	data := make([]byte, size)
	for i := range data {
		data[i] = Erased
	}
	return &MemoryDevice{nor: nor, data: data}
}

// ReadAt implements io.ReaderAt.
func (d *MemoryDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if off < 0 || off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (d *MemoryDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !inRange(off, int64(len(p)), int64(len(d.data))) {
		return 0, fmt.Errorf("%w: write of %d bytes at offset %d on %d-byte device",
			ErrOutOfRange, len(p), off, len(d.data))
	}
	target := d.data[off : off+int64(len(p))]
	if d.nor {
		for i, b := range p {
			if b&^target[i] != 0 {
				return 0, fmt.Errorf("%w: offset %d holds %#02x, cannot program %#02x",
					ErrNotErased, off+int64(i), target[i], b)
			}
		}
	}
	copy(target, p)
	d.writes++
	return len(p), nil
}

// Erase resets length bytes at offset to the erased state.
func (d *MemoryDevice) Erase(offset, length int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !inRange(offset, length, int64(len(d.data))) {
		return fmt.Errorf("%w: erase of %d bytes at offset %d", ErrOutOfRange, length, offset)
	}
	for i := offset; i < offset+length; i++ {
		d.data[i] = Erased
	}
	return nil
}

// Size implements Device.
func (d *MemoryDevice) Size() int64 {
	return int64(len(d.data))
}

// Sync implements Device. Memory is always in sync.
func (d *MemoryDevice) Sync() error { return nil }

// Writes returns the number of successful WriteAt calls.
func (d *MemoryDevice) Writes() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writes
}

// Bytes returns a copy of the device contents.
func (d *MemoryDevice) Bytes() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]byte(nil), d.data...)
}
