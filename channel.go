// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"bytes"
	"encoding/json"
)

// Channel is a duplex message transport. A Mux holds at most one Channel at a
// time.
type Channel interface {
	// Send transmits one encoded message. It must not call the message
	// or error handler before returning.
	Send(msg []byte) error

	// Close closes the channel. Errors reported by the channel after Close
	// are ignored by the Mux.
	Close() error

	// Listen attaches the single message handler and the single error
	// handler. Messages must be delivered one at a time, in arrival order,
	// and not from within Listen itself.
	Listen(onMessage func(msg []byte), onError func(err error))
}

// State is the connection state of a Mux.
type State int

const (
	// StateBuffering means outbound messages are queued until a Channel is
	// attached with Reconnect.
	StateBuffering State = iota
	// StateConnected means a real Channel is active.
	StateConnected
	// StateClosed means there is no active Channel and calls fail with
	// ErrClosed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TypeCheck validates the shape of a successful result.
type TypeCheck func(result json.RawMessage) bool

// Decodes returns a TypeCheck accepting results that decode into a T
// without unknown fields.
func Decodes[T any]() TypeCheck {
	return func(result json.RawMessage) bool {
		dec := json.NewDecoder(bytes.NewReader(result))
		dec.DisallowUnknownFields()

		var v T
		return dec.Decode(&v) == nil
	}
}

// JSONKind is the kind of a JSON value.
type JSONKind int

const (
	KindNull JSONKind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Kind returns a TypeCheck accepting results of any of the given kinds.
func Kind(kinds ...JSONKind) TypeCheck {
	return func(result json.RawMessage) bool {
		k, ok := kindOf(result)
		if !ok {
			return false
		}
		for _, want := range kinds {
			if k == want {
				return true
			}
		}
		return false
	}
}

func kindOf(v json.RawMessage) (JSONKind, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		// An absent result is reported as null.
		return KindNull, true
	}
	switch c := v[0]; {
	case c == 'n':
		return KindNull, true
	case c == 't' || c == 'f':
		return KindBool, true
	case c == '"':
		return KindString, true
	case c == '[':
		return KindArray, true
	case c == '{':
		return KindObject, true
	case c == '-' || (c >= '0' && c <= '9'):
		return KindNumber, true
	}
	return 0, false
}
