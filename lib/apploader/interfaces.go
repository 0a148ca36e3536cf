// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apploader

import "time"

// Client is implemented by the data source that supplies raw image
// chunks (a serial link, a network stream, a file).
type Client interface {
	// ReturnBuffer hands a raw chunk buffer back to the data source.
	// Called once for every buffer accepted by NextBuffer.
	ReturnBuffer(buffer []byte)

	// ReadyForBuffer reports that the previous chunk has been written
	// and the Loader will accept the next one.
	ReadyForBuffer()

	// LoadComplete reports that the image was written, verified, and
	// authorized. The session is over.
	LoadComplete(result Result)

	// ReturnError reports that the session was aborted. err is always
	// an *Error. The session is over.
	ReturnError(err error)
}

// Result describes a successfully loaded image.
type Result struct {
	// BaseAddress is the flash offset where the image starts.
	BaseAddress int

	// Size is the number of bytes written.
	Size int

	// Chunks is the number of chunks accepted during the session,
	// including an empty terminal chunk.
	Chunks int

	// Duration is the time from StartLoading to authorization.
	Duration time.Duration
}

// Decompressor turns a raw chunk into the bytes that get written to
// flash.
type Decompressor interface {
	SetClient(client DecompressorClient)

	// DecompressBuffer starts decompressing buffer[:length]. On success
	// the buffer belongs to the Decompressor until DecompressDone hands
	// it back. A non-nil error means the request was not accepted and
	// the caller still owns buffer.
	DecompressBuffer(buffer []byte, length int) error

	// ReturnBuffer hands a decompressed buffer back to the
	// Decompressor for reuse.
	ReturnBuffer(decompressed []byte)
}

// DecompressorClient receives decompression completions.
type DecompressorClient interface {
	// DecompressDone delivers the decompressed bytes
	// (decompressed[:length]) together with the original raw buffer.
	// When err is non-nil decompressed may be nil.
	DecompressDone(decompressed []byte, length int, original []byte, err error)
}

// Storage is asynchronous non-volatile storage addressed by byte
// offset.
type Storage interface {
	SetClient(client StorageClient)

	// Write starts writing buffer[:length] at offset. A non-nil error
	// means the request was not accepted and the caller still owns
	// buffer.
	Write(buffer []byte, offset, length int) error

	// Read starts reading length bytes at offset into buffer.
	Read(buffer []byte, offset, length int) error
}

// StorageClient receives storage completions. The buffer passed to a
// completion is the buffer given to the request.
type StorageClient interface {
	WriteDone(buffer []byte, length int, err error)
	ReadDone(buffer []byte, length int, err error)
}

// Verifier checks the integrity of a complete image in flash.
type Verifier interface {
	SetClient(client VerifierClient)

	// VerifyData starts verifying the length bytes at baseAddress.
	VerifyData(baseAddress, length int) error
}

// VerifierClient receives verification results. A nil err means the
// image passed.
type VerifierClient interface {
	VerificationComplete(err error)
}

// Authorizer decides whether a verified image may run. Synchronous
// implementations call AuthorizationComplete before AuthorizeData
// returns.
type Authorizer interface {
	SetClient(client AuthorizerClient)

	// AuthorizeData starts authorizing the length bytes at baseAddress.
	AuthorizeData(baseAddress, length int) error
}

// AuthorizerClient receives authorization decisions. A nil err means
// the image may run.
type AuthorizerClient interface {
	AuthorizationComplete(err error)
}
