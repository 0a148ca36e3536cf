// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apploader

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/dals/lib/clock"
	"github.com/bureau-foundation/dals/lib/deferred"
	"github.com/bureau-foundation/dals/lib/testutil"
)

// Buffer owners tracked by the ledger.
const (
	ownerSource       = "source"
	ownerLoader       = "loader"
	ownerDecompressor = "decompressor"
	ownerStorage      = "storage"
)

const (
	testRegionSize       = 1024
	testOutputBufferSize = 256
	testOutputBuffers    = 2
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// harness wires a Loader to fake collaborators that record every call,
// track buffer ownership in a ledger, and count outstanding requests.
type harness struct {
	t         *testing.T
	ledger    *testutil.Ledger
	queue     *deferred.Queue
	scheduler deferred.Scheduler
	clock     *clock.FakeClock

	calls       []string
	outstanding int

	loader       *Loader
	source       *fakeSource
	decompressor *fakeDecompressor
	storage      *fakeStorage
	verifier     *fakeVerifier
	authorizer   *fakeAuthorizer
}

type harnessOptions struct {
	immediate   bool
	baseAddress int
	regionSize  int
}

// newHarness builds a harness whose collaborators complete through a
// queue drained by settle.
func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, harnessOptions{})
}

func newHarnessWith(t *testing.T, options harnessOptions) *harness {
	t.Helper()
	if options.regionSize == 0 {
		options.regionSize = testRegionSize
	}

	h := &harness{
		t:      t,
		ledger: testutil.NewLedger(t),
		queue:  deferred.NewQueue(),
		clock:  clock.Fake(testEpoch),
	}
	h.scheduler = h.queue
	if options.immediate {
		h.scheduler = deferred.Immediate{}
	}

	h.source = &fakeSource{h: h}
	h.decompressor = &fakeDecompressor{h: h}
	for i := 0; i < testOutputBuffers; i++ {
		buffer := make([]byte, testOutputBufferSize)
		h.ledger.Register(buffer, ownerDecompressor)
		h.decompressor.free = append(h.decompressor.free, buffer)
	}
	h.storage = &fakeStorage{h: h, flash: make([]byte, options.baseAddress+options.regionSize)}
	h.verifier = &fakeVerifier{h: h}
	h.authorizer = &fakeAuthorizer{h: h}

	loader, err := New(Config{
		Decompressor: h.decompressor,
		Storage:      h.storage,
		Verifier:     h.verifier,
		Authorizer:   h.authorizer,
		BaseAddress:  options.baseAddress,
		RegionSize:   options.regionSize,
		Clock:        h.clock,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	loader.SetClient(h.source)
	h.loader = loader
	return h
}

func (h *harness) record(format string, args ...any) {
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

func (h *harness) beginRequest(name string) {
	h.outstanding++
	if h.outstanding > 1 {
		h.t.Errorf("%s issued with %d requests outstanding", name, h.outstanding-1)
	}
}

func (h *harness) endRequest() {
	h.outstanding--
}

// settle runs queued completions until nothing is left.
func (h *harness) settle() {
	h.queue.RunPending()
}

// deliver copies payload into a fresh source buffer and hands it to the
// Loader. A rejected buffer stays with the source.
func (h *harness) deliver(payload []byte, completed bool) error {
	h.t.Helper()
	buffer := make([]byte, len(payload)+16)
	copy(buffer, payload)
	h.ledger.Register(buffer, ownerSource)
	return h.deliverBuffer(buffer, len(payload), completed)
}

func (h *harness) deliverBuffer(buffer []byte, length int, completed bool) error {
	h.t.Helper()
	h.ledger.Transfer(buffer, ownerSource, ownerLoader)
	err := h.loader.NextBuffer(buffer, length, completed)
	if err != nil {
		h.ledger.Transfer(buffer, ownerLoader, ownerSource)
	}
	return err
}

// start opens a session and fails the test on error.
func (h *harness) start(size int) {
	h.t.Helper()
	if err := h.loader.StartLoading(size); err != nil {
		h.t.Fatalf("StartLoading(%d): %v", size, err)
	}
}

// requireCalls compares the recorded call log with want.
func (h *harness) requireCalls(want ...string) {
	h.t.Helper()
	if len(h.calls) != len(want) {
		h.t.Fatalf("calls:\n  got  %q\n  want %q", h.calls, want)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			h.t.Fatalf("call %d = %q, want %q\n  got  %q\n  want %q", i, h.calls[i], want[i], h.calls, want)
		}
	}
}

// requireQuiescent checks that every buffer is back with its owner and
// no request is in flight.
func (h *harness) requireQuiescent() {
	h.t.Helper()
	if h.outstanding != 0 {
		h.t.Errorf("%d requests still outstanding", h.outstanding)
	}
	if count := h.ledger.Count(ownerLoader); count != 0 {
		h.t.Errorf("loader still holds %d buffers", count)
	}
	if count := h.ledger.Count(ownerStorage); count != 0 {
		h.t.Errorf("storage still holds %d buffers", count)
	}
	if count := h.ledger.Count(ownerDecompressor); count != testOutputBuffers {
		h.t.Errorf("decompressor holds %d output buffers, want %d", count, testOutputBuffers)
	}
}

// fakeSource is the data source side of the Loader.
type fakeSource struct {
	h *harness

	ready   int
	results []Result
	errs    []error

	onReady        func()
	onReturnError  func(error)
	onReturnBuffer func([]byte)
}

func (s *fakeSource) ReturnBuffer(buffer []byte) {
	s.h.ledger.Transfer(buffer, ownerLoader, ownerSource)
	s.h.record("return_buffer")
	if s.onReturnBuffer != nil {
		s.onReturnBuffer(buffer)
	}
}

func (s *fakeSource) ReadyForBuffer() {
	s.h.record("ready")
	s.ready++
	if s.onReady != nil {
		s.onReady()
	}
}

func (s *fakeSource) LoadComplete(result Result) {
	s.h.record("complete(%d)", result.Size)
	s.results = append(s.results, result)
}

func (s *fakeSource) ReturnError(err error) {
	s.h.record("return_error(%s)", KindOf(err))
	s.errs = append(s.errs, err)
	if s.onReturnError != nil {
		s.onReturnError(err)
	}
}

// decompressPlan scripts one decompression. A zero plan means
// "identity": the output is a copy of the raw chunk.
type decompressPlan struct {
	length int
	err    error
	set    bool
}

func decompressTo(length int) decompressPlan { return decompressPlan{length: length, set: true} }

func decompressFail(err error) decompressPlan { return decompressPlan{err: err, set: true} }

type fakeDecompressor struct {
	h      *harness
	client DecompressorClient

	free       [][]byte
	plans      []decompressPlan
	rejectNext error
	busy       bool
}

func (d *fakeDecompressor) SetClient(client DecompressorClient) { d.client = client }

func (d *fakeDecompressor) DecompressBuffer(buffer []byte, length int) error {
	d.h.record("decompress(%d)", length)
	if d.rejectNext != nil {
		err := d.rejectNext
		d.rejectNext = nil
		return err
	}
	if d.busy || len(d.free) == 0 {
		d.h.t.Errorf("decompress requested while busy=%v with %d free buffers", d.busy, len(d.free))
		return errors.New("decompressor busy")
	}

	plan := decompressPlan{}
	if len(d.plans) > 0 {
		plan = d.plans[0]
		d.plans = d.plans[1:]
	}
	if !plan.set {
		plan.length = length
	}

	d.h.ledger.Transfer(buffer, ownerLoader, ownerDecompressor)
	output := d.free[len(d.free)-1]
	d.free = d.free[:len(d.free)-1]
	d.busy = true
	d.h.beginRequest("decompress")

	d.h.scheduler.Post(func() {
		d.busy = false
		d.h.endRequest()
		d.h.ledger.Transfer(buffer, ownerDecompressor, ownerLoader)
		if plan.err != nil {
			d.free = append(d.free, output)
			d.client.DecompressDone(nil, 0, buffer, plan.err)
			return
		}
		if plan.length <= length {
			copy(output, buffer[:plan.length])
		} else {
			for i := 0; i < plan.length; i++ {
				output[i] = byte(i)
			}
		}
		d.h.ledger.Transfer(output, ownerDecompressor, ownerLoader)
		d.client.DecompressDone(output, plan.length, buffer, nil)
	})
	return nil
}

func (d *fakeDecompressor) ReturnBuffer(decompressed []byte) {
	d.h.ledger.Transfer(decompressed, ownerLoader, ownerDecompressor)
	d.free = append(d.free, decompressed)
}

type write struct {
	offset int
	length int
}

type fakeStorage struct {
	h      *harness
	client StorageClient

	flash      []byte
	writes     []write
	rejectNext error
	failNext   error
	shortNext  bool
}

func (s *fakeStorage) SetClient(client StorageClient) { s.client = client }

func (s *fakeStorage) Write(buffer []byte, offset, length int) error {
	s.h.record("write(%d,%d)", offset, length)
	if s.rejectNext != nil {
		err := s.rejectNext
		s.rejectNext = nil
		return err
	}
	for _, previous := range s.writes {
		if offset < previous.offset+previous.length && previous.offset < offset+length {
			s.h.t.Errorf("write(%d,%d) overlaps write(%d,%d)", offset, length, previous.offset, previous.length)
		}
	}
	if len(s.writes) > 0 {
		last := s.writes[len(s.writes)-1]
		if offset < last.offset+last.length {
			s.h.t.Errorf("write at %d does not follow previous write ending at %d", offset, last.offset+last.length)
		}
	}
	s.writes = append(s.writes, write{offset: offset, length: length})

	s.h.ledger.Transfer(buffer, ownerLoader, ownerStorage)
	s.h.beginRequest("write")

	failure := s.failNext
	s.failNext = nil
	short := s.shortNext
	s.shortNext = false

	s.h.scheduler.Post(func() {
		s.h.endRequest()
		written := length
		if short {
			written = length / 2
		}
		if failure == nil {
			copy(s.flash[offset:], buffer[:written])
		}
		s.h.ledger.Transfer(buffer, ownerStorage, ownerLoader)
		s.client.WriteDone(buffer, written, failure)
	})
	return nil
}

func (s *fakeStorage) Read(buffer []byte, offset, length int) error {
	s.h.t.Errorf("loader issued read(%d,%d)", offset, length)
	return errors.New("reads not supported")
}

type fakeVerifier struct {
	h      *harness
	client VerifierClient

	result     error
	rejectNext error
}

func (v *fakeVerifier) SetClient(client VerifierClient) { v.client = client }

func (v *fakeVerifier) VerifyData(baseAddress, length int) error {
	v.h.record("verify(%d,%d)", baseAddress, length)
	if v.rejectNext != nil {
		err := v.rejectNext
		v.rejectNext = nil
		return err
	}
	v.h.beginRequest("verify")
	result := v.result
	v.h.scheduler.Post(func() {
		v.h.endRequest()
		v.client.VerificationComplete(result)
	})
	return nil
}

type fakeAuthorizer struct {
	h      *harness
	client AuthorizerClient

	result      error
	rejectNext  error
	synchronous bool
	// advance moves the fake clock when a decision is made.
	advance time.Duration
}

func (a *fakeAuthorizer) SetClient(client AuthorizerClient) { a.client = client }

func (a *fakeAuthorizer) AuthorizeData(baseAddress, length int) error {
	a.h.record("authorize(%d,%d)", baseAddress, length)
	if a.rejectNext != nil {
		err := a.rejectNext
		a.rejectNext = nil
		return err
	}
	a.h.beginRequest("authorize")
	result := a.result
	decide := func() {
		a.h.clock.Advance(a.advance)
		a.h.endRequest()
		a.client.AuthorizationComplete(result)
	}
	if a.synchronous {
		decide()
		return nil
	}
	a.h.scheduler.Post(decide)
	return nil
}

// payload returns n bytes with a recognizable pattern.
func payload(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i*7)
	}
	return data
}
