// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package appimage defines the on-flash layout of a loadable
// application image.
//
// An image is four consecutive blocks:
//
//	[0, 16)                    fixed header, little-endian
//	[16, HeaderSize)           CBOR Metadata (name, version, RAM need)
//	[HeaderSize, FooterOffset) program body
//	[FooterOffset, TotalSize)  CBOR Footer (digest algorithm and value)
//
// The footer digest covers every byte before FooterOffset, header and
// metadata included, so nothing a policy decision reads can be
// changed without breaking verification. [Build] produces an image;
// [Read] parses one out of an io.ReaderAt at a base offset and
// [Image.Verify] recomputes the digest.
package appimage
