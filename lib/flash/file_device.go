// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package flash

import (
	"bytes"
	"fmt"
	"io"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// eraseBlock is the write size used when erasing a FileDevice.
const eraseBlock = 64 << 10

// FileDevice is a fixed-size file standing in for a flash part.
// Reads go through a read-only shared memory map; writes use pwrite
// so they never fault pages in through the map first.
//
// ReadAt is lock-free and safe for concurrent use. WriteAt and Erase
// must be serialized by the caller; Storage does that.
type FileDevice struct {
	fd   int
	data []byte // mmap'd MAP_SHARED, PROT_READ
	size int64
}

var _ Device = (*FileDevice)(nil)

// OpenFileDevice creates or opens the device file at path. A new file
// is sized to size bytes and erased to 0xFF. An existing file must
// already be exactly size bytes.
func OpenFileDevice(path string, size int64) (*FileDevice, error) {
	if size <= 0 {
		return nil, fmt.Errorf("flash device size must be positive, got %d", size)
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening flash device %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stating flash device: %w", err)
	}

	fresh := stat.Size == 0
	if fresh {
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("sizing new flash device to %d bytes: %w", size, err)
		}
	} else if stat.Size != size {
		unix.Close(fd)
		return nil, fmt.Errorf("flash device %s is %d bytes but %d was requested",
			path, stat.Size, size)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memory-mapping flash device: %w", err)
	}

	device := &FileDevice{fd: fd, data: data, size: size}
	if fresh {
		if err := device.Erase(0, size); err != nil {
			device.Close()
			return nil, fmt.Errorf("erasing new flash device: %w", err)
		}
	}
	return device, nil
}

// ReadAt implements io.ReaderAt.
func (d *FileDevice) ReadAt(p []byte, off int64) (readCount int, err error) {
	if off < 0 || off >= d.size {
		return 0, io.EOF
	}

	// An I/O error on the backing file surfaces as SIGBUS on the
	// mapping. Turn it into an error instead of a crash.
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = fmt.Errorf("page fault reading flash device at offset %d: %v", off, r)
		}
	}()

	readCount = copy(p, d.data[off:])
	if readCount < len(p) {
		return readCount, io.EOF
	}
	return readCount, nil
}

// WriteAt implements io.WriterAt.
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if !inRange(off, int64(len(p)), d.size) {
		return 0, fmt.Errorf("%w: write of %d bytes at offset %d on %d-byte device",
			ErrOutOfRange, len(p), off, d.size)
	}

	totalWritten := 0
	for len(p) > 0 {
		written, err := unix.Pwrite(d.fd, p, off)
		if written > 0 {
			totalWritten += written
		}
		if err != nil {
			return totalWritten, fmt.Errorf("pwrite at offset %d: %w", off, err)
		}
		p = p[written:]
		off += int64(written)
	}
	return totalWritten, nil
}

// Erase resets length bytes at offset to 0xFF.
func (d *FileDevice) Erase(offset, length int64) error {
	if !inRange(offset, length, d.size) {
		return fmt.Errorf("%w: erase of %d bytes at offset %d", ErrOutOfRange, length, offset)
	}
	block := bytes.Repeat([]byte{Erased}, int(min(length, eraseBlock)))
	for length > 0 {
		n := min(length, int64(len(block)))
		if _, err := d.WriteAt(block[:n], offset); err != nil {
			return err
		}
		offset += n
		length -= n
	}
	return nil
}

// Sync implements Device.
func (d *FileDevice) Sync() error {
	return unix.Fsync(d.fd)
}

// Size implements Device.
func (d *FileDevice) Size() int64 {
	return d.size
}

// Close unmaps the device and closes the file descriptor.
func (d *FileDevice) Close() error {
	var firstErr error
	if err := unix.Munmap(d.data); err != nil {
		firstErr = fmt.Errorf("unmapping flash device: %w", err)
	}
	if err := unix.Close(d.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing flash device fd: %w", err)
	}
	d.data = nil
	d.fd = -1
	return firstErr
}
