// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package flash provides the non-volatile storage that application
// images are written into.
//
// A [Device] is a fixed-size byte-addressed store. [FileDevice] backs
// it with a file (pwrite for writes, a read-only memory map for
// reads) and [MemoryDevice] with RAM, optionally enforcing NOR
// program semantics. [Storage] wraps a Device in the asynchronous
// request/completion interface the loader drives.
package flash
