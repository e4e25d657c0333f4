// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// queue is the Channel installed while no real Channel is attached. It
// stores outbound messages and, when closed, forwards them in order through
// forward. Messages sent after Close are forwarded directly.
type queue struct {
	log     *zap.Logger
	forward func([]byte) error

	mu     sync.Mutex
	msgs   [][]byte
	closed bool
}

func newQueue(log *zap.Logger, forward func([]byte) error) *queue {
	return &queue{
		log:     log,
		forward: forward,
	}
}

func (q *queue) Send(msg []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return q.forward(msg)
	}
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
	return nil
}

// Close flushes the stored messages. A failed forward is logged and the
// flush continues; the failures are returned combined.
func (q *queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	msgs := q.msgs
	q.msgs = nil
	q.mu.Unlock()

	var errs error
	for _, msg := range msgs {
		if err := q.forward(msg); err != nil {
			q.log.Warn("dropping buffered message",
				zap.ByteString("msg", msg),
				zap.Error(err),
			)
			errs = multierr.Append(errs, err)
		}
	}
	if len(msgs) > 0 {
		q.log.Debug("flushed buffered messages", zap.Int("count", len(msgs)))
	}
	return errs
}

func (*queue) Listen(func([]byte), func(error)) {}

// Len returns the number of stored messages.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
