// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rpcmux multiplexes JSON requests and server push streams over a
// single replaceable duplex Channel.
//
// # Wire format
//
// Requests are sent as
//
//	{"id": 3, "method": "Service.Method", "params": {...}}
//
// and answered by
//
//	{"id": 3, "result": ...}
//	{"id": 3, "error": {"code": -32601, "message": "...", "data": ...}}
//
// Request ids count up from 0 for the life of a Mux. Messages with a
// negative id are pushes: the server sends them unprompted and every
// consumer registered for that id receives them.
//
// # Usage
//
//	mux, err := rpcmux.Dial(ctx, "ws://localhost:9000/rpc")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mux.Close()
//
//	var reply MyResponse
//	err = mux.Call(ctx, "Service.Method", &MyRequest{...}, &reply)
//
//	// Every push on id -1 until canceled
//	sub, err := mux.Subscribe(-1, nil)
//	sub.When(func(msg json.RawMessage) (json.RawMessage, error) {
//	    ...
//	}, nil)
//	defer sub.Cancel()
//
// # Channels
//
// A Mux created without a Channel buffers outbound messages and sends them
// in order on the first Channel given to Reconnect. Reconnect can replace a
// Channel at any time; requests in flight stay pending and can be answered
// on the new Channel. A Channel error is fatal: the Mux closes and every
// pending call and push consumer receives a *TransportError. A new Channel
// must then be supplied with Reconnect.
//
// Transports live in their own packages and register URL schemes for Dial:
//
//   - wschan: WebSocket (ws, wss)
//   - httpchan: JSON-RPC 2.0 over HTTP POST (http, https)
//   - grpcchan: gRPC bidirectional stream (grpc)
package rpcmux
