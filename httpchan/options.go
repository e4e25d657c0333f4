// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package httpchan

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRetries   = 3
	defaultRetryWait = 500 * time.Millisecond
)

// Option configures a Conn
type Option func(*options)

type options struct {
	log       *zap.Logger
	client    *http.Client
	header    http.Header
	retries   int
	retryWait time.Duration
}

func newOptions(opts []Option) *options {
	o := &options{
		log:       zap.NewNop(),
		client:    newHTTPClient(),
		retries:   defaultRetries,
		retryWait: defaultRetryWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retries < 1 {
		o.retries = 1
	}
	return o
}

// newHTTPClient creates an HTTP client with connection reuse disabled, which
// avoids EOF errors from pooled connections the server already dropped.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

// WithHeader sets headers added to every request.
func WithHeader(header http.Header) Option {
	return func(o *options) { o.header = header }
}

// WithRetries sets the number of attempts for a request failing with a
// transient network error. Waits between attempts double from wait.
func WithRetries(attempts int, wait time.Duration) Option {
	return func(o *options) {
		o.retries = attempts
		o.retryWait = wait
	}
}
