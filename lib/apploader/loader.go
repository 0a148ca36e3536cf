// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apploader

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/dals/lib/clock"
)

// Config binds a Loader to its collaborators and flash region.
type Config struct {
	Decompressor Decompressor
	Storage      Storage
	Verifier     Verifier
	Authorizer   Authorizer

	// BaseAddress is the flash offset where images are written.
	BaseAddress int

	// RegionSize is the number of bytes available from BaseAddress.
	// StartLoading rejects images larger than this.
	RegionSize int

	// Clock stamps session start and finish. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Loader is the load-session state machine. Create one with [New];
// the zero value is not usable.
//
// Loader is safe for concurrent use, but the protocol is sequential:
// at most one collaborator request is outstanding at a time.
type Loader struct {
	decompressor Decompressor
	storage      Storage
	verifier     Verifier
	authorizer   Authorizer

	baseAddress int
	regionSize  int

	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	client  Client
	state   State
	pending request
	session *session

	// sessions counts sessions ever started, for log correlation.
	sessions uint64
}

var (
	_ DecompressorClient = (*Loader)(nil)
	_ StorageClient      = (*Loader)(nil)
	_ VerifierClient     = (*Loader)(nil)
	_ AuthorizerClient   = (*Loader)(nil)
)

// New creates a Loader and registers it as the client of every
// collaborator in config.
func New(config Config) (*Loader, error) {
	var errs []error
	if config.Decompressor == nil {
		errs = append(errs, errors.New("decompressor is required"))
	}
	if config.Storage == nil {
		errs = append(errs, errors.New("storage is required"))
	}
	if config.Verifier == nil {
		errs = append(errs, errors.New("verifier is required"))
	}
	if config.Authorizer == nil {
		errs = append(errs, errors.New("authorizer is required"))
	}
	if config.BaseAddress < 0 {
		errs = append(errs, fmt.Errorf("base address must not be negative, got %d", config.BaseAddress))
	}
	if config.RegionSize <= 0 {
		errs = append(errs, fmt.Errorf("region size must be positive, got %d", config.RegionSize))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("apploader: invalid config: %w", errors.Join(errs...))
	}

	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	loader := &Loader{
		decompressor: config.Decompressor,
		storage:      config.Storage,
		verifier:     config.Verifier,
		authorizer:   config.Authorizer,
		baseAddress:  config.BaseAddress,
		regionSize:   config.RegionSize,
		clock:        config.Clock,
		logger:       config.Logger,
	}

	config.Decompressor.SetClient(loader)
	config.Storage.SetClient(loader)
	config.Verifier.SetClient(loader)
	config.Authorizer.SetClient(loader)

	return loader, nil
}

// SetClient sets the data source that receives buffers and outcomes.
// A session already in progress keeps reporting to the client it
// started with.
func (l *Loader) SetClient(client Client) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.client = client
}

// Status returns a snapshot of the Loader.
func (l *Loader) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := Status{State: l.state}
	if l.session != nil {
		status.Active = true
		status.DeclaredSize = l.session.declaredSize
		status.BytesWritten = l.session.bytesWritten
		status.WriteCursor = l.session.writeCursor
		status.Chunks = l.session.chunks
	}
	return status
}

// StartLoading opens a session for an image of appSize bytes. It
// performs no I/O. The returned error is an *Error of kind
// SessionBusy, InsufficientSpace, or SizeMismatch, or ErrNoClient.
// A rejected call leaves any active session untouched.
func (l *Loader) StartLoading(appSize int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		return ErrNoClient
	}
	if l.session != nil {
		return &Error{Kind: SessionBusy, Err: fmt.Errorf("session %d is %s", l.session.id, l.state)}
	}
	if appSize < 0 {
		return &Error{Kind: SizeMismatch, Err: fmt.Errorf("declared size %d is negative", appSize)}
	}
	if appSize > l.regionSize {
		return &Error{Kind: InsufficientSpace, Err: fmt.Errorf("image of %d bytes does not fit the %d-byte region", appSize, l.regionSize)}
	}

	l.sessions++
	l.session = &session{
		id:           l.sessions,
		client:       l.client,
		started:      l.clock.Now(),
		declaredSize: appSize,
		writeCursor:  l.baseAddress,
	}
	l.state = Idle
	l.pending = requestNone

	l.logger.Info("load session started",
		"session", l.session.id,
		"declared_size", appSize,
		"base_address", l.baseAddress,
	)
	return nil
}

// NextBuffer hands the Loader the next raw chunk, buffer[:length].
// completed marks the last chunk of the image.
//
// It returns ErrNotAwaitingBuffer or ErrInvalidLength without taking
// the buffer when the call breaks the protocol. Otherwise the buffer
// belongs to the Loader until it comes back through
// Client.ReturnBuffer, and any failure is reported through
// Client.ReturnError.
func (l *Loader) NextBuffer(buffer []byte, length int, completed bool) error {
	l.mu.Lock()
	s := l.session
	if s == nil || s.closing || s.returning || l.state != Idle || l.pending != requestNone {
		l.mu.Unlock()
		return ErrNotAwaitingBuffer
	}
	if length < 0 || length > len(buffer) {
		l.mu.Unlock()
		return fmt.Errorf("%w: length %d, buffer %d bytes", ErrInvalidLength, length, len(buffer))
	}
	s.chunks++
	s.final = completed

	if length == 0 {
		l.emptyChunk(s, buffer)
		return nil
	}

	l.state = Decompressing
	l.pending = requestDecompress
	l.logger.Debug("chunk accepted",
		"session", s.id,
		"chunk", s.chunks,
		"length", length,
		"final", completed,
	)
	l.mu.Unlock()

	if err := l.decompressor.DecompressBuffer(buffer, length); err != nil {
		if !l.clearPending(s, requestDecompress) {
			return nil
		}
		s.client.ReturnBuffer(buffer)
		l.abort(s, DecompressionFailed, err)
	}
	return nil
}

// emptyChunk handles a zero-length chunk. A non-final empty chunk is a
// no-op. An empty final chunk closes the image if every declared byte
// has already been written.
//
// It is called with l.mu held, so the outcome is decided in the same
// critical section that accepted the chunk, and it releases the lock.
func (l *Loader) emptyChunk(s *session, buffer []byte) {
	if !s.final {
		// No chunk is accepted until the buffer is home and the
		// client has been told to send the next one.
		s.returning = true
		l.mu.Unlock()
		s.client.ReturnBuffer(buffer)

		l.mu.Lock()
		if l.session != s {
			l.mu.Unlock()
			return
		}
		s.returning = false
		l.mu.Unlock()
		s.client.ReadyForBuffer()
		return
	}

	if s.bytesWritten != s.declaredSize {
		s.closing = true
		mismatch := fmt.Errorf("empty final chunk with %d of %d declared bytes written", s.bytesWritten, s.declaredSize)
		l.mu.Unlock()
		s.client.ReturnBuffer(buffer)
		l.abort(s, SizeMismatch, mismatch)
		return
	}
	l.state = Verifying
	l.mu.Unlock()

	s.client.ReturnBuffer(buffer)
	l.beginVerify(s)
}

// DecompressDone implements DecompressorClient.
func (l *Loader) DecompressDone(decompressed []byte, length int, original []byte, err error) {
	s, ok := l.complete(requestDecompress)
	if !ok {
		return
	}

	// The raw chunk goes home first on every path.
	s.client.ReturnBuffer(original)

	if err != nil {
		if decompressed != nil {
			l.decompressor.ReturnBuffer(decompressed)
		}
		l.abort(s, DecompressionFailed, err)
		return
	}
	if length < 0 || length > len(decompressed) {
		l.decompressor.ReturnBuffer(decompressed)
		l.abort(s, DecompressionFailed,
			fmt.Errorf("decompressor reported %d bytes in a %d-byte buffer", length, len(decompressed)))
		return
	}

	l.mu.Lock()
	if mismatch := s.checkChunk(length); mismatch != nil {
		l.mu.Unlock()
		l.decompressor.ReturnBuffer(decompressed)
		l.abort(s, SizeMismatch, mismatch)
		return
	}
	if length == 0 {
		l.mu.Unlock()
		l.decompressor.ReturnBuffer(decompressed)
		l.chunkWritten(s, 0)
		return
	}
	if s.final {
		l.state = WritingFinal
	} else {
		l.state = Writing
	}
	l.pending = requestWrite
	s.writeLength = length
	offset := s.writeCursor
	l.mu.Unlock()

	if err := l.storage.Write(decompressed, offset, length); err != nil {
		if !l.clearPending(s, requestWrite) {
			return
		}
		l.decompressor.ReturnBuffer(decompressed)
		l.abort(s, StorageWriteFailed, err)
	}
}

// WriteDone implements StorageClient.
func (l *Loader) WriteDone(buffer []byte, length int, err error) {
	s, ok := l.complete(requestWrite)
	if !ok {
		return
	}

	l.decompressor.ReturnBuffer(buffer)

	if err != nil {
		l.abort(s, StorageWriteFailed, err)
		return
	}
	if length != s.writeLength {
		l.abort(s, StorageWriteFailed,
			fmt.Errorf("wrote %d of %d bytes at offset %d", length, s.writeLength, s.writeCursor))
		return
	}
	l.chunkWritten(s, length)
}

// ReadDone implements StorageClient. The Loader never reads, so any
// read completion is a collaborator fault.
func (l *Loader) ReadDone(buffer []byte, length int, err error) {
	l.logger.Error("unexpected storage read completion", "length", length, "error", err)
}

// VerificationComplete implements VerifierClient.
func (l *Loader) VerificationComplete(err error) {
	s, ok := l.complete(requestVerify)
	if !ok {
		return
	}
	if err != nil {
		l.abort(s, VerificationFailed, err)
		return
	}
	l.beginAuthorize(s)
}

// AuthorizationComplete implements AuthorizerClient.
func (l *Loader) AuthorizationComplete(err error) {
	s, ok := l.complete(requestAuthorize)
	if !ok {
		return
	}
	if err != nil {
		l.abort(s, AuthorizationFailed, err)
		return
	}
	l.finish(s)
}

// chunkWritten records n flashed bytes and either waits for the next
// chunk or moves on to verification.
func (l *Loader) chunkWritten(s *session, n int) {
	l.mu.Lock()
	if l.session != s {
		l.mu.Unlock()
		return
	}
	s.bytesWritten += n
	s.writeCursor += n

	if !s.final {
		l.state = Idle
		l.logger.Debug("chunk written",
			"session", s.id,
			"chunk", s.chunks,
			"bytes_written", s.bytesWritten,
			"cursor", s.writeCursor,
		)
		l.mu.Unlock()
		s.client.ReadyForBuffer()
		return
	}
	l.mu.Unlock()
	l.beginVerify(s)
}

func (l *Loader) beginVerify(s *session) {
	l.mu.Lock()
	if l.session != s {
		l.mu.Unlock()
		return
	}
	l.state = Verifying
	l.pending = requestVerify
	length := s.bytesWritten
	l.logger.Debug("verifying image", "session", s.id, "base_address", l.baseAddress, "length", length)
	l.mu.Unlock()

	if err := l.verifier.VerifyData(l.baseAddress, length); err != nil {
		if l.clearPending(s, requestVerify) {
			l.abort(s, VerificationFailed, err)
		}
	}
}

func (l *Loader) beginAuthorize(s *session) {
	l.mu.Lock()
	if l.session != s {
		l.mu.Unlock()
		return
	}
	l.state = Authorizing
	l.pending = requestAuthorize
	length := s.bytesWritten
	l.logger.Debug("authorizing image", "session", s.id, "base_address", l.baseAddress, "length", length)
	l.mu.Unlock()

	if err := l.authorizer.AuthorizeData(l.baseAddress, length); err != nil {
		if l.clearPending(s, requestAuthorize) {
			l.abort(s, AuthorizationFailed, err)
		}
	}
}

// finish ends s successfully. The session is destroyed before the
// client hears about it.
func (l *Loader) finish(s *session) {
	l.mu.Lock()
	if l.session != s {
		l.mu.Unlock()
		return
	}
	l.state = Done
	result := Result{
		BaseAddress: l.baseAddress,
		Size:        s.bytesWritten,
		Chunks:      s.chunks,
		Duration:    clock.Since(l.clock, s.started),
	}
	l.logger.Info("application loaded",
		"session", s.id,
		"base_address", result.BaseAddress,
		"size", result.Size,
		"chunks", result.Chunks,
		"duration", result.Duration,
	)
	l.session = nil
	l.state = Idle
	l.pending = requestNone
	l.mu.Unlock()

	s.client.LoadComplete(result)
}

// abort ends s with an error. Callers return every buffer the Loader
// holds before calling abort. The client is told exactly once.
func (l *Loader) abort(s *session, kind ErrorKind, cause error) {
	loaderError := &Error{Kind: kind, Err: cause}

	l.mu.Lock()
	if l.session != s {
		l.mu.Unlock()
		l.logger.Error("dropping error for a finished session", "session", s.id, "error", loaderError)
		return
	}
	stage := l.state
	l.session = nil
	l.state = Idle
	l.pending = requestNone
	l.logger.Warn("load session aborted",
		"session", s.id,
		"stage", stage.String(),
		"error_kind", kind.String(),
		"declared_size", s.declaredSize,
		"bytes_written", s.bytesWritten,
		"cursor", s.writeCursor,
		"error", cause,
		"duration", clock.Since(l.clock, s.started),
	)
	l.mu.Unlock()

	s.client.ReturnError(loaderError)
}

// complete claims the outstanding request of the given kind. It
// returns false, after logging, when no such request is outstanding.
func (l *Loader) complete(kind request) (*session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil || l.pending != kind {
		l.logger.Error("unexpected collaborator completion",
			"completion", kind.String(),
			"pending", l.pending.String(),
			"state", l.state.String(),
		)
		return nil, false
	}
	l.pending = requestNone
	return l.session, true
}

// clearPending withdraws a request the collaborator refused. It
// returns false if the collaborator completed the request anyway,
// in which case the completion path already owns the outcome.
func (l *Loader) clearPending(s *session, kind request) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != s || l.pending != kind {
		l.logger.Error("collaborator completed a request it refused",
			"request", kind.String(),
			"pending", l.pending.String(),
		)
		return false
	}
	l.pending = requestNone
	return true
}

// checkChunk reports whether a decompressed chunk of length bytes may
// be written without breaking the declared size.
func (s *session) checkChunk(length int) error {
	total := s.bytesWritten + length
	if total > s.declaredSize {
		return fmt.Errorf("chunk of %d bytes would bring the image to %d bytes, declared %d",
			length, total, s.declaredSize)
	}
	if s.final && total != s.declaredSize {
		return fmt.Errorf("final chunk leaves the image at %d bytes, declared %d", total, s.declaredSize)
	}
	return nil
}
