// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for DALS packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) for tests that drive
// a loader from a separate goroutine. They are the only place in the
// test suite where real wall-clock timeouts are used.
//
// [Ledger] records which component owns each buffer in a loader test
// and fails the test the moment a buffer is handed off by a component
// that does not own it, or appears in two places at once.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no DALS-internal dependencies.
package testutil
