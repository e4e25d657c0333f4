// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactive

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResponder is returned by Requester.Request when no responder is set.
	ErrNoResponder = errors.New("reactive: no responder set")

	// ErrTypeMismatch is delivered by Then when a value passed through
	// without a success callback cannot be converted to the target type.
	ErrTypeMismatch = errors.New("reactive: value has unexpected type")
)

// HandlerError wraps an error returned by, or a panic raised in, a callback
// given to When, Then, Catch or Finally.
type HandlerError struct {
	Err   error
	Panic any
}

func (e *HandlerError) Error() string {
	if e.Err != nil {
		return "reactive: handler failed: " + e.Err.Error()
	}
	return fmt.Sprintf("reactive: handler panicked: %v", e.Panic)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
