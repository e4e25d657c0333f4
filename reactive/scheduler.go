// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactive

import (
	"slices"
	"sync"
	"time"
)

// Scheduler defers a function call. Combine and Any use it to batch values
// that arrive close together into one notification.
type Scheduler interface {
	Schedule(fn func())
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(fn func())

func (f SchedulerFunc) Schedule(fn func()) {
	f(fn)
}

// Immediate runs fn in place, so every value is reported on its own.
var Immediate Scheduler = SchedulerFunc(func(fn func()) { fn() })

// Delay returns a Scheduler that runs fn on its own goroutine after d.
func Delay(d time.Duration) Scheduler {
	return SchedulerFunc(func(fn func()) { time.AfterFunc(d, fn) })
}

// DefaultScheduler is used by AnyOf.
var DefaultScheduler = Delay(0)

// latest keeps the most recent value per input and emits a copy of all of
// them once per scheduled flush. Only one flush runs at a time: values set
// while it emits are picked up by the same flush, so emits never overlap
// and never go back to an older array.
type latest[T any] struct {
	mu      sync.Mutex
	values  []T
	dirty   bool
	pending bool
	sched   Scheduler
	emit    func([]T)
}

func newLatest[T any](values []T, sched Scheduler, emit func([]T)) *latest[T] {
	if sched == nil {
		sched = DefaultScheduler
	}
	return &latest[T]{values: values, sched: sched, emit: emit}
}

func (l *latest[T]) set(n int, v T) {
	l.mu.Lock()
	l.values[n] = v
	l.dirty = true
	if l.pending {
		l.mu.Unlock()
		return
	}
	l.pending = true
	l.mu.Unlock()

	l.sched.Schedule(l.flush)
}

func (l *latest[T]) flush() {
	for {
		l.mu.Lock()
		if !l.dirty {
			l.pending = false
			l.mu.Unlock()
			return
		}
		out := slices.Clone(l.values)
		l.dirty = false
		l.mu.Unlock()

		l.emit(out)
	}
}
