// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactive

import (
	"sync"
)

// Progress is a snapshot of a Tracker's counters.
type Progress struct {
	Waits  int `json:"waits"`
	Done   int `json:"done"`
	Errors int `json:"errors"`
}

// Complete reports whether every started unit has finished or failed.
func (p Progress) Complete() bool {
	return p.Done+p.Errors == p.Waits
}

// Tracker counts started, finished and failed units of asynchronous work.
// Every change is published to the update listeners; a change that leaves
// Done+Errors equal to Waits is also published to the completion listeners.
// A Tracker is never reset, so adding work after a completion can complete
// it again. The zero value is ready to use.
type Tracker struct {
	mu       sync.Mutex
	p        Progress
	update   Broadcaster[Progress]
	complete Broadcaster[Progress]
}

// Add records a started unit.
func (t *Tracker) Add() {
	t.mu.Lock()
	t.p.Waits++
	p := t.p
	t.mu.Unlock()

	t.publish(p)
}

// Done records a finished unit. It panics if every started unit has
// already been accounted for.
func (t *Tracker) Done() {
	t.finish(func(p *Progress) { p.Done++ })
}

// Error records a failed unit. It panics if every started unit has
// already been accounted for.
func (t *Tracker) Error() {
	t.finish(func(p *Progress) { p.Errors++ })
}

func (t *Tracker) finish(inc func(*Progress)) {
	t.mu.Lock()
	if t.p.Complete() {
		t.mu.Unlock()
		panic("reactive: tracker finished more work than was added")
	}
	inc(&t.p)
	p := t.p
	t.mu.Unlock()

	t.publish(p)
}

func (t *Tracker) publish(p Progress) {
	t.update.Send(p)
	if p.Complete() {
		t.complete.Send(p)
	}
}

// Progress returns the current counters.
func (t *Tracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}

// OnUpdate registers fn for every change and returns a function that
// unregisters it.
func (t *Tracker) OnUpdate(fn func(Progress)) (stop func()) {
	id := t.update.Register(fn)
	return func() { t.update.Unregister(id) }
}

// OnComplete registers fn for every completion and returns a function that
// unregisters it.
func (t *Tracker) OnComplete(fn func(Progress)) (stop func()) {
	id := t.complete.Register(fn)
	return func() { t.complete.Unregister(id) }
}
