// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactive

import "sync"

// Requester is a request point answered by a single responder, which is
// either a function or a fixed value. Setting a responder replaces the
// previous one.
type Requester[T any] struct {
	mu    sync.RWMutex
	fn    func(args ...any) T
	value T
	set   bool
}

// Responder answers future requests with fn.
func (r *Requester[T]) Responder(fn func(args ...any) T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	r.fn, r.value, r.set = fn, zero, fn != nil
}

// Respond answers future requests with v.
func (r *Requester[T]) Respond(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fn, r.value, r.set = nil, v, true
}

// Request asks the responder. It returns ErrNoResponder if none is set.
func (r *Requester[T]) Request(args ...any) (T, error) {
	r.mu.RLock()
	fn, v, set := r.fn, r.value, r.set
	r.mu.RUnlock()

	switch {
	case !set:
		var zero T
		return zero, ErrNoResponder
	case fn != nil:
		return fn(args...), nil
	}
	return v, nil
}
