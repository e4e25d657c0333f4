// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wschan

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultHandshakeTimeout = 10 * time.Second

type Option func(*options)

type options struct {
	log              *zap.Logger
	handshakeTimeout time.Duration
	header           http.Header
	readLimit        int64
}

func newOptions(opts []Option) *options {
	o := &options{
		log:              zap.NewNop(),
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = timeout }
}

// WithHeader sets the headers sent with the opening handshake.
func WithHeader(header http.Header) Option {
	return func(o *options) { o.header = header }
}

// WithReadLimit sets the maximum size in bytes of an inbound message.
func WithReadLimit(limit int64) Option {
	return func(o *options) { o.readLimit = limit }
}
