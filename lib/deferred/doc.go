// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deferred provides the execution contexts on which DALS
// collaborators deliver their completion callbacks.
//
// The loader is written against a single-threaded, callback-driven
// model: a request returns immediately and its completion arrives
// later on the same logical execution context. A [Queue] provides
// that context in a Go process. Production wiring runs [Queue.Run] on
// one goroutine; tests drain it step by step with [Queue.Step] or
// [Queue.RunPending] so every intermediate state is observable.
//
// [Immediate] runs completions inline. It exists to exercise the case
// where a completion arrives before the request call has returned,
// which the loader must tolerate.
package deferred
