// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/bureau-foundation/dals/lib/apploader"
	"github.com/bureau-foundation/dals/lib/deferred"
)

var (
	// ErrBusy is returned by DecompressBuffer while a previous request
	// has not completed.
	ErrBusy = errors.New("compression: decompressor busy")

	// ErrNoBuffer is returned by DecompressBuffer when every output
	// buffer is lent out to the client.
	ErrNoBuffer = errors.New("compression: no free output buffer")
)

// DecompressorConfig sizes a Decompressor's output buffer pool.
type DecompressorConfig struct {
	// BufferSize is the capacity of each output buffer and so the
	// largest chunk the Decompressor can produce.
	BufferSize int

	// Buffers is the number of output buffers. Defaults to 2.
	Buffers int

	// Scheduler runs completions. Defaults to deferred.Immediate.
	Scheduler deferred.Scheduler

	Logger *slog.Logger
}

// Decompressor decodes chunk frames (see [ParseFrame]) into a fixed
// pool of output buffers. It accepts one request at a time and
// reports each through DecompressDone on its scheduler.
type Decompressor struct {
	bufferSize int
	scheduler  deferred.Scheduler
	logger     *slog.Logger

	mu     sync.Mutex
	client apploader.DecompressorClient
	free   [][]byte
	lent   map[*byte]struct{}
	busy   bool
}

var _ apploader.Decompressor = (*Decompressor)(nil)

// NewDecompressor allocates the output pool.
func NewDecompressor(config DecompressorConfig) (*Decompressor, error) {
	if config.BufferSize <= 0 {
		return nil, fmt.Errorf("compression: buffer size must be positive, got %d", config.BufferSize)
	}
	if config.Buffers == 0 {
		config.Buffers = 2
	}
	if config.Buffers < 0 {
		return nil, fmt.Errorf("compression: buffer count must be positive, got %d", config.Buffers)
	}
	if config.Scheduler == nil {
		config.Scheduler = deferred.Immediate{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	free := make([][]byte, config.Buffers)
	for i := range free {
		free[i] = make([]byte, config.BufferSize)
	}
	return &Decompressor{
		bufferSize: config.BufferSize,
		scheduler:  config.Scheduler,
		logger:     config.Logger,
		free:       free,
		lent:       make(map[*byte]struct{}, config.Buffers),
	}, nil
}

// SetClient implements apploader.Decompressor.
func (d *Decompressor) SetClient(client apploader.DecompressorClient) {
	d.mu.Lock()
	d.client = client
	d.mu.Unlock()
}

// BufferSize returns the capacity of each output buffer.
func (d *Decompressor) BufferSize() int { return d.bufferSize }

// Available returns the number of output buffers not lent out.
func (d *Decompressor) Available() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.free)
}

// DecompressBuffer implements apploader.Decompressor. buffer[:length]
// must hold exactly one frame.
func (d *Decompressor) DecompressBuffer(buffer []byte, length int) error {
	if length < 0 || length > len(buffer) {
		return fmt.Errorf("compression: length %d outside %d-byte buffer", length, len(buffer))
	}

	d.mu.Lock()
	if d.client == nil {
		d.mu.Unlock()
		return errors.New("compression: no client registered")
	}
	if d.busy {
		d.mu.Unlock()
		return ErrBusy
	}
	if len(d.free) == 0 {
		d.mu.Unlock()
		return ErrNoBuffer
	}
	output := d.free[len(d.free)-1]
	d.free = d.free[:len(d.free)-1]
	d.busy = true
	client := d.client
	d.mu.Unlock()

	d.scheduler.Post(func() {
		size, err := d.decode(output, buffer[:length])

		d.mu.Lock()
		d.busy = false
		if err != nil {
			d.free = append(d.free, output)
		} else {
			d.lent[unsafe.SliceData(output)] = struct{}{}
		}
		d.mu.Unlock()

		if err != nil {
			client.DecompressDone(nil, 0, buffer, err)
			return
		}
		client.DecompressDone(output, size, buffer, nil)
	})
	return nil
}

func (d *Decompressor) decode(output, data []byte) (int, error) {
	frame, err := ParseFrame(data)
	if err != nil {
		return 0, err
	}
	if frame.Size > len(output) {
		return 0, fmt.Errorf("compression: frame expands to %d bytes, output buffers hold %d", frame.Size, len(output))
	}
	if err := DecompressInto(output, frame.Payload, frame.Tag, frame.Size); err != nil {
		return 0, err
	}
	return frame.Size, nil
}

// ReturnBuffer implements apploader.Decompressor. Buffers this
// Decompressor did not lend out are logged and dropped.
func (d *Decompressor) ReturnBuffer(decompressed []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cap(decompressed) == 0 {
		d.logger.Error("decompressor: empty buffer returned")
		return
	}
	key := unsafe.SliceData(decompressed)
	if _, ok := d.lent[key]; !ok {
		d.logger.Error("decompressor: unknown buffer returned", "capacity", cap(decompressed))
		return
	}
	delete(d.lent, key)
	d.free = append(d.free, decompressed[:d.bufferSize])
}
