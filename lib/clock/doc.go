// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable wall-clock source.
//
// The loader stamps each session with its start and finish times so
// load results carry a duration. Production code passes Real(); tests
// pass Fake() and move time explicitly with Advance so reported
// durations are exact.
package clock
