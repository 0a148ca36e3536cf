// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apploader

import (
	"fmt"
	"time"
)

// State is the Loader's position in the load sequence.
type State uint8

const (
	// Idle: no session, or a session awaiting its next chunk.
	Idle State = iota
	// Decompressing: a raw chunk is with the Decompressor.
	Decompressing
	// Writing: a non-final chunk is being written.
	Writing
	// WritingFinal: the final chunk is being written.
	WritingFinal
	// Verifying: the complete image is with the Verifier.
	Verifying
	// Authorizing: the verified image is with the Authorizer.
	Authorizing
	// Done: authorization passed; the session is being torn down.
	Done
)

func (state State) String() string {
	switch state {
	case Idle:
		return "idle"
	case Decompressing:
		return "decompressing"
	case Writing:
		return "writing"
	case WritingFinal:
		return "writing_final"
	case Verifying:
		return "verifying"
	case Authorizing:
		return "authorizing"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// request identifies the single outstanding collaborator call.
type request uint8

const (
	requestNone request = iota
	requestDecompress
	requestWrite
	requestVerify
	requestAuthorize
)

func (r request) String() string {
	switch r {
	case requestNone:
		return "none"
	case requestDecompress:
		return "decompress"
	case requestWrite:
		return "write"
	case requestVerify:
		return "verify"
	case requestAuthorize:
		return "authorize"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// session is the bookkeeping for one load. It exists from a
// successful StartLoading until the client is told the outcome.
type session struct {
	id      uint64
	client  Client
	started time.Time

	declaredSize int
	bytesWritten int
	// writeCursor is the absolute flash offset of the next write.
	writeCursor int

	chunks int

	// final is set when the chunk currently in flight was delivered
	// with completed=true.
	final bool

	// writeLength is the length of the write in flight.
	writeLength int

	// closing is set once the outcome is decided while the Loader is
	// still returning buffers. NextBuffer is refused from then on.
	closing bool

	// returning is set while an empty non-final chunk's buffer goes
	// back to the client. NextBuffer is refused until it clears.
	returning bool
}

// Status is a point-in-time view of the Loader.
type Status struct {
	Active       bool
	State        State
	DeclaredSize int
	BytesWritten int
	WriteCursor  int
	Chunks       int
}
