// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcchan

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype carrying raw rpcmux messages.
const codecName = "rpcmux-raw"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawCodec passes bytes through unchanged
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	default:
		return nil, fmt.Errorf("grpcchan: cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpcchan: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string {
	return codecName
}
