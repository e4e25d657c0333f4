// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a Mux
type Option func(*options)

type options struct {
	log        *zap.Logger
	codec      Codec
	registerer prometheus.Registerer
}

func newOptions(opts []Option) *options {
	o := &options{
		log:   zap.NewNop(),
		codec: defaultCodec,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCodec sets a custom codec for params and results
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithRegisterer registers the Mux metrics with reg. Muxes sharing a
// registerer share their collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}
