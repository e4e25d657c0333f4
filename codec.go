// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"bytes"
	"encoding/json"
)

// Codec encodes request params and decodes results. The encoded form is
// embedded in a JSON message, so Encode must produce valid JSON.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec is a JSON-based codec
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// StrictJSONCodec is a JSONCodec that rejects results with fields the
// destination does not have.
type StrictJSONCodec struct {
	JSONCodec
}

func (StrictJSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// defaultCodec is used when no codec is specified
var defaultCodec Codec = JSONCodec{}
