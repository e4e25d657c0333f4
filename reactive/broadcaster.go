// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactive

import (
	"sync"
)

// ListenerID identifies a single registration on a Broadcaster.
type ListenerID uint64

type listener[T any] struct {
	id ListenerID
	fn func(T)
}

// Broadcaster registers listener functions and fans values out to them.
// The zero value is ready to use. A Broadcaster must not be copied after
// first use.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	nextID    ListenerID
	listeners []listener[T]
}

// Register adds fn to the listeners and returns the id to unregister it with.
// Registering the same function twice creates two registrations.
func (b *Broadcaster[T]) Register(fn func(T)) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.listeners = append(b.listeners, listener[T]{id: b.nextID, fn: fn})
	return b.nextID
}

// Unregister removes the registration with the given id. It reports whether
// a registration was removed.
func (b *Broadcaster[T]) Unregister(id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, l := range b.listeners {
		if l.id == id {
			// Never write into the shared backing array: a Send in
			// progress may still be iterating over it.
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Send calls every listener registered at the time of the call with v, in
// registration order.
func (b *Broadcaster[T]) Send(v T) {
	b.mu.Lock()
	ls := b.listeners
	b.mu.Unlock()

	for _, l := range ls {
		l.fn(v)
	}
}

// Input is one input of Combine: either a Broadcaster, optionally with a
// value to report until it first fires, or a constant.
type Input[T any] struct {
	b *Broadcaster[T]
	v T
}

// Source uses b as an input; the zero value is reported until b fires.
func Source[T any](b *Broadcaster[T]) Input[T] {
	return Input[T]{b: b}
}

// SourceDefault uses b as an input, reporting def until b fires.
func SourceDefault[T any](b *Broadcaster[T], def T) Input[T] {
	return Input[T]{b: b, v: def}
}

// Value is a constant input.
func Value[T any](v T) Input[T] {
	return Input[T]{v: v}
}

// Combine calls fn with the latest value of every input whenever any of the
// broadcaster inputs fires. Values that arrive before the flush scheduled on
// sched has run are folded into a single call. The returned function detaches
// Combine from all inputs.
func Combine[T any](fn func([]T), sched Scheduler, inputs ...Input[T]) (stop func()) {
	values := make([]T, len(inputs))
	for n, in := range inputs {
		values[n] = in.v
	}

	l := newLatest(values, sched, fn)

	var stops []func()
	for n, in := range inputs {
		if in.b == nil {
			continue
		}
		n := n
		b := in.b
		id := b.Register(func(v T) { l.set(n, v) })
		stops = append(stops, func() { b.Unregister(id) })
	}

	return func() {
		for _, s := range stops {
			s()
		}
	}
}
