// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// An image's metadata block therefore has exactly one encoding, which
// the image digest depends on.
var encMode cbor.EncMode

// decMode decodes untrusted input: image blocks read back from flash
// and transfer streams from a remote sender. Nesting and collection
// sizes are capped well below the library defaults, and duplicate map
// keys are rejected so two decoders cannot disagree on a value.
// Unknown struct fields are ignored so newer tools can add fields.
var decMode cbor.DecMode

const (
	maxNestedLevels = 16
	maxCollection   = 4096
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:  maxNestedLevels,
		MaxArrayElements: maxCollection,
		MaxMapPairs:      maxCollection,
		IndefLength:      cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes exactly one CBOR data item from data into v.
// Trailing bytes are an error.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// UnmarshalFirst decodes the first CBOR data item in data into v and
// returns the bytes that follow it.
func UnmarshalFirst(data []byte, v any) (rest []byte, err error) {
	return decMode.UnmarshalFirst(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewEncoder returns an encoder that writes a CBOR sequence
// (RFC 8742) to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a decoder that reads a CBOR sequence from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// first data item in data. dals inspect uses it to show raw metadata.
func Diagnose(data []byte) (string, error) {
	notation, _, err := cbor.DiagnoseFirst(data)
	return notation, err
}
