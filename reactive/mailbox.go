// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reactive

import "sync"

// Mailbox holds at most one value for a single consumer.
// The zero value is an empty Mailbox.
type Mailbox[T any] struct {
	mu   sync.Mutex
	v    T
	full bool
}

// Set stores v, replacing any unread value, and returns v.
func (m *Mailbox[T]) Set(v T) T {
	m.mu.Lock()
	m.v, m.full = v, true
	m.mu.Unlock()
	return v
}

// Get returns the stored value and empties the Mailbox. The boolean is false
// if the Mailbox was empty.
func (m *Mailbox[T]) Get() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	v, ok := m.v, m.full
	m.v, m.full = zero, false
	return v, ok
}
