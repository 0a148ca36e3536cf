// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package apploader coordinates loading an application image into
// non-volatile storage.
//
// A data source hands the [Loader] raw chunks one at a time. Each
// chunk flows through four collaborators in strict sequence:
//
//	NextBuffer -> Decompressor -> Storage -> (next chunk ...)
//	final chunk -> Verifier -> Authorizer -> LoadComplete
//
// Every collaborator is asynchronous: the Loader issues a request and
// returns, and the collaborator later invokes the matching completion
// method on the Loader. At most one request is outstanding at any
// time, so flash writes land at strictly increasing, non-overlapping
// offsets.
//
// # Buffer ownership
//
// A buffer has exactly one owner at any instant: the data source, the
// Loader, the Decompressor, or the Storage. Hand-offs are explicit
// method calls. After passing a buffer on, the sender holds no
// reference to it. Raw chunks always return to the data source via
// [Client.ReturnBuffer] and decompressed buffers always return to the
// Decompressor via [Decompressor.ReturnBuffer], on the error paths as
// well as the success path.
//
// # Sessions
//
// [Loader.StartLoading] opens a session with a declared image size.
// The session ends in exactly one of two ways: [Client.LoadComplete]
// after authorization succeeds, or a single [Client.ReturnError]
// carrying an [*Error]. The session is gone by the time either
// notification runs, so the data source may start the next session
// from inside the callback. Partial flash contents after an error are
// not cleaned up here; the data source decides what to do with them.
//
// # Re-entrancy
//
// A completion may arrive before the request call that triggered it
// has returned (collaborators driven by [deferred.Immediate] do this).
// The Loader applies each state transition before issuing the request
// and never holds its lock while calling out, so synchronous
// completions re-enter cleanly.
package apploader
