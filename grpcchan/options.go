// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcchan

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type Option func(*options)

type options struct {
	log         *zap.Logger
	dialOptions []grpc.DialOption
}

func newOptions(opts []Option) *options {
	o := &options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithDialOptions adds options used by Dial. Transport credentials default
// to insecure.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOptions = append(o.dialOptions, opts...) }
}
