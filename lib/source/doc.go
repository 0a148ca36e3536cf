// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package source is the data-source side of an application load: the
// transfer stream format and the [Source] that feeds a stream into an
// apploader.Loader.
//
// A transfer stream is a CBOR sequence: one [Announce] record giving
// the image size, then [Chunk] records, each carrying one
// compression frame. The last chunk has Final set. [WriteStream]
// produces a stream from an image; [StreamReader] consumes one.
package source
