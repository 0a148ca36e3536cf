// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flash

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/dals/lib/apploader"
	"github.com/bureau-foundation/dals/lib/deferred"
)

// ErrBusy is returned by Write and Read while a previous operation
// has not completed.
var ErrBusy = errors.New("flash: storage busy")

// StorageConfig configures a Storage.
type StorageConfig struct {
	Device Device

	// Sync calls Device.Sync after every write, before WriteDone.
	Sync bool

	// Scheduler runs completions. Defaults to deferred.Immediate.
	Scheduler deferred.Scheduler

	Logger *slog.Logger
}

// Storage adapts a Device to the loader's asynchronous storage
// interface. One operation is in flight at a time.
type Storage struct {
	device    Device
	sync      bool
	scheduler deferred.Scheduler
	logger    *slog.Logger

	mu     sync.Mutex
	client apploader.StorageClient
	busy   bool
}

var _ apploader.Storage = (*Storage)(nil)

// NewStorage returns a Storage over config.Device.
func NewStorage(config StorageConfig) (*Storage, error) {
	if config.Device == nil {
		return nil, errors.New("flash: device is required")
	}
	if config.Scheduler == nil {
		config.Scheduler = deferred.Immediate{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Storage{
		device:    config.Device,
		sync:      config.Sync,
		scheduler: config.Scheduler,
		logger:    config.Logger,
	}, nil
}

// SetClient implements apploader.Storage.
func (s *Storage) SetClient(client apploader.StorageClient) {
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

// Device returns the underlying device.
func (s *Storage) Device() Device { return s.device }

// Write implements apploader.Storage.
func (s *Storage) Write(buffer []byte, offset, length int) error {
	client, err := s.begin(buffer, offset, length)
	if err != nil {
		return err
	}

	s.scheduler.Post(func() {
		written, err := s.device.WriteAt(buffer[:length], int64(offset))
		if err == nil && s.sync {
			if syncErr := s.device.Sync(); syncErr != nil {
				err = fmt.Errorf("syncing after write at offset %d: %w", offset, syncErr)
			}
		}
		s.end()
		if err != nil {
			s.logger.Warn("flash write failed",
				"offset", offset,
				"length", length,
				"written", written,
				"error", err,
			)
		}
		client.WriteDone(buffer, written, err)
	})
	return nil
}

// Read implements apploader.Storage.
func (s *Storage) Read(buffer []byte, offset, length int) error {
	client, err := s.begin(buffer, offset, length)
	if err != nil {
		return err
	}

	s.scheduler.Post(func() {
		read, err := s.device.ReadAt(buffer[:length], int64(offset))
		if read == length {
			// io.ReaderAt may report io.EOF alongside a full read at
			// the end of the device.
			err = nil
		}
		s.end()
		client.ReadDone(buffer, read, err)
	})
	return nil
}

func (s *Storage) begin(buffer []byte, offset, length int) (apploader.StorageClient, error) {
	if length < 0 || length > len(buffer) {
		return nil, fmt.Errorf("flash: length %d outside %d-byte buffer", length, len(buffer))
	}
	if !inRange(int64(offset), int64(length), s.device.Size()) {
		return nil, fmt.Errorf("%w: %d bytes at offset %d on %d-byte device",
			ErrOutOfRange, length, offset, s.device.Size())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, errors.New("flash: no client registered")
	}
	if s.busy {
		return nil, ErrBusy
	}
	s.busy = true
	return s.client, nil
}

func (s *Storage) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}
