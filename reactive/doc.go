// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package reactive provides the multicast and cancelable-subscription
// primitives used by the rpcmux client.
//
// # Broadcaster
//
// A Broadcaster fans one value out to every registered listener:
//
//	var b reactive.Broadcaster[int]
//	id := b.Register(func(v int) { fmt.Println(v) })
//	b.Send(1)
//	b.Unregister(id)
//
// Send works on a snapshot of the listeners, so listeners may register or
// unregister (themselves or others) while a Send is in progress. A panicking
// listener is not recovered: the panic aborts the remaining listeners of that
// Send and propagates to its caller.
//
// # Subscription
//
// A Subscription is a repeatable success/error stream with chaining and
// upward cancellation:
//
//	sub, emit := reactive.Bind[int]()
//	emit.OnCancel(stopProducer)
//
//	doubled := reactive.Then(sub, func(v int) (int, error) { return v * 2, nil }, nil)
//	doubled.Cancel() // calls stopProducer, at most once per chain
//
// Errors returned by (or panics raised in) callbacks passed to When and Then
// are delivered as *HandlerError on the error path of the derived
// Subscription; they never escape to the emitter.
//
// # Tracker, Mailbox and Requester
//
// Tracker counts started, finished and failed units of work and notifies on
// every update and on every completion. Mailbox is a single slot for handing
// one value to one consumer. Requester is a request point served by at most
// one responder.
package reactive
