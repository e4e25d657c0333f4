// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactive

import (
	"slices"
	"sync"
)

// manualScheduler queues scheduled functions until run is called.
type manualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

func (m *manualScheduler) Schedule(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

func (m *manualScheduler) run() int {
	m.mu.Lock()
	q := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, fn := range q {
		fn()
	}
	return len(q)
}

type recorder[T any] struct {
	mu     sync.Mutex
	values []T
	errs   []error
}

func record[T any](s *Subscription[T]) *recorder[T] {
	r := new(recorder[T])
	s.When(func(v T) (T, error) {
		r.mu.Lock()
		r.values = append(r.values, v)
		r.mu.Unlock()
		return v, nil
	}, func(err error) (T, error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
		var zero T
		return zero, nil
	})
	return r
}

func (r *recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.values)
}

func (r *recorder[T]) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.errs)
}
