// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package httpchan carries rpcmux messages as JSON-RPC 2.0 HTTP POST
// requests, one request per message. Responses are delivered as inbound
// messages in the order they complete. Importing it registers the http and
// https schemes with rpcmux.Dial.
package httpchan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"github.com/luxfi/rpcmux"
)

// ErrClosed is returned when sending on a closed Conn.
var ErrClosed = errors.New("httpchan: connection closed")

func init() {
	dial := func(_ context.Context, addr string) (rpcmux.Channel, error) {
		return New(addr), nil
	}
	rpcmux.RegisterDialer("http", dial)
	rpcmux.RegisterDialer("https", dial)
}

// Conn is an rpcmux.Channel posting every message to one endpoint.
type Conn struct {
	endpoint string
	opts     *options
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	onMessage func([]byte)
	onError   func(error)
	failed    bool

	// deliverMu serializes calls to onMessage.
	deliverMu sync.Mutex
}

// New returns a Conn posting to endpoint.
func New(endpoint string, opts ...Option) *Conn {
	o := newOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		endpoint: endpoint,
		opts:     o,
		log:      o.log.With(zap.String("endpoint", endpoint)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Send posts msg without waiting for the response.
func (c *Conn) Send(msg []byte) error {
	body, err := envelope(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	go c.post(body)
	return nil
}

// envelope adds the JSON-RPC version member to msg.
func envelope(msg []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil, fmt.Errorf("httpchan: message is not a JSON object: %w", err)
	}
	fields["jsonrpc"] = json.RawMessage(`"` + json2.Version + `"`)
	return json.Marshal(fields)
}

func (c *Conn) Listen(onMessage func([]byte), onError func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage, c.onError = onMessage, onError
}

// Close cancels in-flight requests. Their failures are not reported.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return nil
}

func (c *Conn) post(body []byte) {
	resp, err := c.do(body)
	if err != nil {
		c.fail(err)
		return
	}
	if len(bytes.TrimSpace(resp)) == 0 {
		return
	}

	c.mu.Lock()
	closed, onMessage := c.closed, c.onMessage
	c.mu.Unlock()
	if closed {
		return
	}
	if onMessage == nil {
		c.log.Debug("dropping response without listener")
		return
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	onMessage(resp)
}

// fail reports the first error to the error handler.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closed || c.failed {
		c.mu.Unlock()
		return
	}
	c.failed = true
	onError := c.onError
	c.mu.Unlock()

	c.log.Warn("request failed", zap.Error(err))
	if onError != nil {
		onError(err)
	}
}

// do posts body, retrying transient network errors with exponential
// backoff, and returns the response body.
func (c *Conn) do(body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.retries; attempt++ {
		if attempt > 0 {
			waitTime := c.opts.retryWait * time.Duration(1<<(attempt-1))
			select {
			case <-c.ctx.Done():
				return nil, c.ctx.Err()
			case <-time.After(waitTime):
			}
		}

		// Create fresh request for each attempt (body buffer is consumed)
		request, err := http.NewRequestWithContext(
			c.ctx,
			http.MethodPost,
			c.endpoint,
			bytes.NewReader(body),
		)
		if err != nil {
			return nil, fmt.Errorf("httpchan: failed to create request: %w", err)
		}

		request.Header = c.opts.header.Clone()
		if request.Header == nil {
			request.Header = make(http.Header)
		}
		request.Header.Set("Content-Type", "application/json")

		resp, err := c.opts.client.Do(request)
		if err != nil {
			lastErr = err
			c.log.Debug("request attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Bool("retryable", isRetryableError(err)),
				zap.Error(err),
			)
			if isRetryableError(err) {
				continue
			}
			return nil, fmt.Errorf("httpchan: failed to issue request: %w", err)
		}
		if attempt > 0 {
			c.log.Debug("request succeeded", zap.Int("attempt", attempt+1))
		}

		data, err := io.ReadAll(resp.Body)
		_ = CleanlyCloseBody(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpchan: failed to read response: %w", err)
		}

		// A JSON-RPC error response may come with any status code
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			if hasID(data) {
				return data, nil
			}
			return nil, fmt.Errorf("httpchan: received status code: %d", resp.StatusCode)
		}
		return data, nil
	}

	return nil, fmt.Errorf("httpchan: failed to issue request after %d retries: %w", c.opts.retries, lastErr)
}

func hasID(data []byte) bool {
	var v struct {
		ID json.RawMessage `json:"id"`
	}
	return json.Unmarshal(data, &v) == nil && len(v.ID) > 0 && string(v.ID) != "null"
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}
