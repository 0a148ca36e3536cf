// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression encodes and decodes the chunk frames of an
// application image transfer.
//
// A frame is a one-byte algorithm tag, the uncompressed size as a
// uvarint, and the payload. The sender picks LZ4 or zstd per chunk
// (see [SelectCompression]) and falls back to sending a chunk
// uncompressed when neither shrinks it. The receiving side decodes
// with [Decompressor], which owns a fixed pool of output buffers and
// never allocates per chunk.
package compression
