// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Call is an outstanding request or a wait for the next push message. It
// settles exactly once.
type Call struct {
	id     int64
	method string
	check  TypeCheck
	codec  Codec

	// abandon removes the call from the Mux when the caller stops waiting.
	abandon func()
	// settled is told the outcome once.
	settled func(err error)

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(id int64, method string, check TypeCheck, codec Codec) *Call {
	return &Call{
		id:     id,
		method: method,
		check:  check,
		codec:  codec,
		done:   make(chan struct{}),
	}
}

// ID returns the correlation id. A request that failed before an id was
// assigned reports -1.
func (c *Call) ID() int64 {
	return c.id
}

// Method returns the requested method. It is empty for push waits.
func (c *Call) Method() string {
	return c.method
}

// Done is closed when the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result blocks until the call settles and returns its outcome.
func (c *Call) Result() (json.RawMessage, error) {
	<-c.done
	return c.result, c.err
}

// Wait blocks until the call settles or ctx is done. If ctx is done first,
// the call is removed from the Mux, so a late response is dropped, and
// Wait returns the context's error.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
	}

	if c.abandon != nil {
		c.abandon()
	}
	c.finish(nil, ctx.Err())
	return c.Result()
}

// Decode waits for the result and decodes it into v.
func (c *Call) Decode(ctx context.Context, v any) error {
	result, err := c.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := c.codec.Decode(result, v); err != nil {
		return fmt.Errorf("rpcmux: decode %s result: %w", c.name(), err)
	}
	return nil
}

func (c *Call) name() string {
	if c.method != "" {
		return c.method
	}
	return fmt.Sprintf("push %d", c.id)
}

// finish settles the call. It reports whether this was the first settlement.
func (c *Call) finish(result json.RawMessage, err error) bool {
	first := false
	c.once.Do(func() {
		c.result, c.err = result, err
		close(c.done)
		first = true
	})
	if first && c.settled != nil {
		c.settled(err)
	}
	return first
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
