// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/dals/lib/apploader"
)

var (
	// ErrRunning is returned by Run while another Run is in progress.
	ErrRunning = errors.New("source: a load is already running")

	// ErrFrameTooLarge is returned when a stream chunk does not fit in
	// a raw buffer.
	ErrFrameTooLarge = errors.New("source: frame larger than raw buffer")
)

// Loader is the part of apploader.Loader a Source drives.
type Loader interface {
	StartLoading(appSize int) error
	NextBuffer(buffer []byte, length int, completed bool) error
}

// Progress is reported after every chunk the loader accepts.
type Progress struct {
	Chunks    int
	RawBytes  int
	ImageSize int
}

// Config configures a Source.
type Config struct {
	Loader Loader

	// BufferSize is the size of each raw buffer. It must hold the
	// largest frame in any stream this Source reads; see
	// RawBufferSize.
	BufferSize int

	// Buffers is the number of raw buffers. Defaults to 2.
	Buffers int

	// OnProgress, if set, is called from Run's goroutine.
	OnProgress func(Progress)

	Logger *slog.Logger
}

type outcome struct {
	result apploader.Result
	err    error
}

// Source feeds transfer streams into a Loader. It implements
// apploader.Client; register it with the Loader's SetClient before
// calling Run. The client callbacks may arrive on any goroutine,
// including inside Run's own calls into the Loader.
type Source struct {
	loader     Loader
	bufferSize int
	onProgress func(Progress)
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	free    [][]byte
	ready   int
	result  *outcome
	signal  chan struct{}
}

var _ apploader.Client = (*Source)(nil)

// New allocates the raw buffer pool.
func New(config Config) (*Source, error) {
	if config.Loader == nil {
		return nil, errors.New("source: loader is required")
	}
	if config.BufferSize <= 0 {
		return nil, fmt.Errorf("source: buffer size must be positive, got %d", config.BufferSize)
	}
	if config.Buffers == 0 {
		config.Buffers = 2
	}
	if config.Buffers < 0 {
		return nil, fmt.Errorf("source: buffer count must be positive, got %d", config.Buffers)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	free := make([][]byte, config.Buffers)
	for i := range free {
		free[i] = make([]byte, config.BufferSize)
	}
	return &Source{
		loader:     config.Loader,
		bufferSize: config.BufferSize,
		onProgress: config.OnProgress,
		logger:     config.Logger,
		free:       free,
		signal:     make(chan struct{}, 1),
	}, nil
}

// ReturnBuffer implements apploader.Client.
func (s *Source) ReturnBuffer(buffer []byte) {
	s.mu.Lock()
	s.free = append(s.free, buffer[:s.bufferSize])
	s.mu.Unlock()
	s.notify()
}

// ReadyForBuffer implements apploader.Client.
func (s *Source) ReadyForBuffer() {
	s.mu.Lock()
	s.ready++
	s.mu.Unlock()
	s.notify()
}

// LoadComplete implements apploader.Client.
func (s *Source) LoadComplete(result apploader.Result) {
	s.mu.Lock()
	s.result = &outcome{result: result}
	s.mu.Unlock()
	s.notify()
}

// ReturnError implements apploader.Client.
func (s *Source) ReturnError(err error) {
	s.mu.Lock()
	s.result = &outcome{err: err}
	s.mu.Unlock()
	s.notify()
}

func (s *Source) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Run reads a transfer stream from r and loads it. It returns when
// the Loader reports the outcome.
//
// A stream that breaks mid-transfer (truncated, undecodable, or with a
// frame too large for the raw buffers) ends the session with an empty
// final chunk, which the Loader rejects as a size mismatch unless the
// declared size was already written. The stream error is returned
// joined with the Loader's verdict.
//
// If ctx is cancelled Run returns ctx.Err() at once. The session then
// runs to completion inside the Loader on its own.
func (s *Source) Run(ctx context.Context, r io.Reader) (apploader.Result, error) {
	stream, err := NewStreamReader(r)
	if err != nil {
		return apploader.Result{}, err
	}
	return s.Load(ctx, stream)
}

// Load is Run for a stream whose announce has already been read.
func (s *Source) Load(ctx context.Context, stream *StreamReader) (apploader.Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return apploader.Result{}, ErrRunning
	}
	s.running = true
	s.ready = 0
	s.result = nil
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	announce := stream.Announce()
	logger := s.logger.With("image", announce.Name, "size", announce.Size)
	if err := s.loader.StartLoading(announce.Size); err != nil {
		return apploader.Result{}, err
	}
	logger.Debug("load started")

	progress := Progress{ImageSize: announce.Size}
	var streamErr error
	for {
		chunk, err := stream.Next()
		if err == nil && len(chunk.Frame) > s.bufferSize {
			err = fmt.Errorf("%w: %d bytes, buffers hold %d", ErrFrameTooLarge, len(chunk.Frame), s.bufferSize)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrTruncated
			}
			streamErr = err
			chunk = Chunk{Final: true}
			logger.Warn("abandoning load", "chunks", progress.Chunks, "error", err)
		}

		buffer, err := s.takeBuffer(ctx)
		if err != nil {
			return apploader.Result{}, err
		}
		length := copy(buffer, chunk.Frame)
		if err := s.loader.NextBuffer(buffer, length, chunk.Final); err != nil {
			s.ReturnBuffer(buffer)
			return apploader.Result{}, errors.Join(streamErr, fmt.Errorf("delivering chunk %d: %w", progress.Chunks, err))
		}
		progress.Chunks++
		progress.RawBytes += length
		if s.onProgress != nil {
			s.onProgress(progress)
		}

		done, err := s.awaitReady(ctx)
		if err != nil {
			return apploader.Result{}, err
		}
		if done != nil {
			if done.err != nil {
				logger.Debug("load failed", "error", done.err)
			}
			return done.result, errors.Join(streamErr, done.err)
		}
	}
}

// takeBuffer waits for a free raw buffer.
func (s *Source) takeBuffer(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if n := len(s.free); n > 0 {
			buffer := s.free[n-1]
			s.free = s.free[:n-1]
			s.mu.Unlock()
			return buffer, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.signal:
		}
	}
}

// awaitReady waits until the Loader asks for the next chunk or ends
// the session. A non-nil outcome means the session is over.
func (s *Source) awaitReady(ctx context.Context) (*outcome, error) {
	for {
		s.mu.Lock()
		if s.result != nil {
			done := s.result
			s.result = nil
			s.mu.Unlock()
			return done, nil
		}
		if s.ready > 0 {
			s.ready--
			s.mu.Unlock()
			return nil, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.signal:
		}
	}
}

// Available returns the number of raw buffers not lent to the Loader.
func (s *Source) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.free)
}
