// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the one CBOR configuration shared by every DALS
// format: the metadata and footer blocks inside an application image,
// and the announce/chunk records of a transfer stream.
//
// For buffer-oriented data (image blocks):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For streams (a serial link, a pipe, a file):
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// Types serialized here carry `cbor` struct tags with short keys.
// They are never marshaled to JSON.
package codec
