// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"errors"
	"fmt"

	"github.com/gorilla/rpc/v2/json2"
)

var (
	// ErrClosed is returned for calls made on a closed Mux. Nothing is sent.
	ErrClosed = errors.New("rpcmux: closed")

	// ErrNotPushID is returned by Next, Await and Subscribe for ids that
	// belong to client requests (id >= 0).
	ErrNotPushID = errors.New("rpcmux: id is not a push id")

	// ErrTypeMismatch matches every *TypeMismatchError.
	ErrTypeMismatch = errors.New("rpcmux: result failed type check")

	// ErrUnknownScheme is returned by Dial for addresses without a
	// registered dialer.
	ErrUnknownScheme = errors.New("rpcmux: unknown scheme")

	errMissingID = errors.New("missing id")
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParse          = int(json2.E_PARSE)
	CodeInvalidRequest = int(json2.E_INVALID_REQ)
	CodeMethodNotFound = int(json2.E_NO_METHOD)
	CodeInvalidParams  = int(json2.E_BAD_PARAMS)
	CodeInternal       = int(json2.E_INTERNAL)
	CodeServer         = int(json2.E_SERVER)
)

// RPCError is a structured error returned by the server for one request.
type RPCError struct {
	Code    int
	Message string
	Data    any
}

func newRPCError(e *json2.Error) *RPCError {
	return &RPCError{
		Code:    int(e.Code),
		Message: e.Message,
		Data:    e.Data,
	}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TypeMismatchError is returned when a successful result fails the
// TypeCheck given with the request. Panic holds the recovered value when
// the TypeCheck panicked instead of returning.
type TypeMismatchError struct {
	Result []byte
	Panic  any
}

func (e *TypeMismatchError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("rpcmux: type check panicked on %.64s: %v", e.Result, e.Panic)
	}
	return fmt.Sprintf("rpcmux: result failed type check: %.64s", e.Result)
}

func (*TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// TransportError is delivered to every outstanding call and push handler
// when the active Channel fails. It closes the Mux.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "rpcmux: transport failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
