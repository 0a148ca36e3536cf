// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apploader

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a session could not start or was aborted.
type ErrorKind uint8

const (
	// SessionBusy: StartLoading was called while a session exists.
	SessionBusy ErrorKind = iota + 1

	// InsufficientSpace: the declared size does not fit the region.
	InsufficientSpace

	// SizeMismatch: the delivered bytes would exceed the declared size,
	// or the final chunk left the image short.
	SizeMismatch

	// DecompressionFailed: the Decompressor rejected or failed a chunk.
	DecompressionFailed

	// StorageWriteFailed: the Storage rejected, failed, or shortened a
	// write.
	StorageWriteFailed

	// VerificationFailed: the Verifier rejected the image.
	VerificationFailed

	// AuthorizationFailed: the Authorizer refused the image.
	AuthorizationFailed
)

// String returns the snake_case name used in logs.
func (kind ErrorKind) String() string {
	switch kind {
	case SessionBusy:
		return "session_busy"
	case InsufficientSpace:
		return "insufficient_space"
	case SizeMismatch:
		return "size_mismatch"
	case DecompressionFailed:
		return "decompression_failed"
	case StorageWriteFailed:
		return "storage_write_failed"
	case VerificationFailed:
		return "verification_failed"
	case AuthorizationFailed:
		return "authorization_failed"
	default:
		return fmt.Sprintf("unknown(%d)", kind)
	}
}

// Error is the error type reported by StartLoading and
// Client.ReturnError. Err carries the collaborator's cause, if any.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "apploader: " + e.Kind.String()
	}
	return fmt.Sprintf("apploader: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error sentinel of the same kind, so
// errors.Is(err, ErrVerificationFailed) holds regardless of cause.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	return ok && sentinel.Err == nil && sentinel.Kind == e.Kind
}

// KindOf returns the ErrorKind carried by err, or 0 if err is not an
// *Error.
func KindOf(err error) ErrorKind {
	var loaderError *Error
	if errors.As(err, &loaderError) {
		return loaderError.Kind
	}
	return 0
}

// Sentinels for errors.Is.
var (
	ErrSessionBusy         = &Error{Kind: SessionBusy}
	ErrInsufficientSpace   = &Error{Kind: InsufficientSpace}
	ErrSizeMismatch        = &Error{Kind: SizeMismatch}
	ErrDecompressionFailed = &Error{Kind: DecompressionFailed}
	ErrStorageWriteFailed  = &Error{Kind: StorageWriteFailed}
	ErrVerificationFailed  = &Error{Kind: VerificationFailed}
	ErrAuthorizationFailed = &Error{Kind: AuthorizationFailed}
)

// Caller contract violations. These are returned synchronously, never
// abort a session, and leave buffer ownership with the caller.
var (
	// ErrNotAwaitingBuffer is returned by NextBuffer when no session
	// exists or the previous chunk is still in flight.
	ErrNotAwaitingBuffer = errors.New("apploader: not awaiting a buffer")

	// ErrInvalidLength is returned by NextBuffer when length is
	// negative or larger than the buffer.
	ErrInvalidLength = errors.New("apploader: chunk length out of range")

	// ErrNoClient is returned by StartLoading before SetClient.
	ErrNoClient = errors.New("apploader: no client set")
)
