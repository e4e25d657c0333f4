// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luxfi/rpcmux/reactive"
)

// handler is one consumer of a push id.
type handler struct {
	key     uint64
	check   TypeCheck
	deliver func(result json.RawMessage, err error)
}

// Mux multiplexes requests and push subscriptions over one Channel.
//
// Requests get ids counting up from 0. Inbound messages with an id >= 0
// settle the request with that id; messages with a negative id are pushes,
// delivered to every handler registered for that id. Handlers run on the
// goroutine that delivers the message, after the Mux lock is released, so
// they may call back into the Mux.
type Mux struct {
	session string
	log     *zap.Logger
	codec   Codec
	metrics *metrics

	keys atomic.Uint64

	// swap is held for writing while Reconnect changes the Channel and
	// flushes the previous one, and for reading by every send, so no
	// message overtakes the flushed ones.
	swap sync.RWMutex

	mu      sync.Mutex
	ch      Channel
	state   State
	nextID  int64
	pending map[int64]*Call
	// handler slices are replaced, never modified, so a dispatch can
	// iterate over the slice it loaded.
	pushes  map[int64][]*handler
	pushIDs []int64
}

// New creates a Mux on ch. With a nil ch, messages are buffered until a
// Channel is attached with Reconnect.
func New(ch Channel, opts ...Option) *Mux {
	o := newOptions(opts)

	session := uuid.NewString()
	log := o.log.With(zap.String("mux", session))
	m := &Mux{
		session: session,
		log:     log,
		codec:   o.codec,
		metrics: newMetrics(o.registerer, log),
		pending: make(map[int64]*Call),
		pushes:  make(map[int64][]*handler),
	}

	if ch == nil {
		ch = newQueue(m.log, m.forward)
	}
	m.ch = ch
	m.state = stateOf(ch)
	m.attach(ch)
	return m
}

func stateOf(ch Channel) State {
	if _, ok := ch.(*queue); ok {
		return StateBuffering
	}
	return StateConnected
}

// Session returns the unique id of this Mux used in its log lines.
func (m *Mux) Session() string {
	return m.session
}

// State returns the current connection state.
func (m *Mux) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mux) attach(ch Channel) {
	ch.Listen(m.dispatch, func(err error) {
		m.transportError(ch, err)
	})
}

// forward sends a message flushed from a queue on the current Channel.
func (m *Mux) forward(msg []byte) error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()

	if ch == nil {
		return ErrClosed
	}
	return ch.Send(msg)
}

// Reconnect makes ch the active Channel and then closes the previous one.
// If the previous Channel was buffering, its messages are sent on ch in
// order. A nil ch starts buffering again. Reconnect is allowed after Close.
// The returned error is the error from closing the previous Channel; ch is
// active regardless. Requests sent while Reconnect runs wait for it and go
// out after the flushed messages.
func (m *Mux) Reconnect(ch Channel) error {
	if ch == nil {
		ch = newQueue(m.log, m.forward)
	}

	m.swap.Lock()
	defer m.swap.Unlock()

	m.mu.Lock()
	prev := m.ch
	if prev == ch {
		m.mu.Unlock()
		return nil
	}
	m.ch = ch
	m.state = stateOf(ch)
	state := m.state
	m.mu.Unlock()

	m.attach(ch)
	m.log.Info("reconnected", zap.Stringer("state", state))

	if prev == nil {
		return nil
	}
	if err := prev.Close(); err != nil {
		m.log.Warn("failed to close previous channel", zap.Error(err))
		return fmt.Errorf("rpcmux: close previous channel: %w", err)
	}
	return nil
}

// Close detaches and closes the active Channel. Outstanding calls are not
// settled; a later Reconnect can still answer them if their requests were
// sent. Closing a buffering Mux drops the buffered requests: their calls
// stay pending until Abort, and the returned error reports each dropped
// message.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	ch := m.ch
	m.ch = nil
	m.state = StateClosed
	m.mu.Unlock()

	m.log.Info("closed")
	return ch.Close()
}

// Abort tears the Mux down as if the active Channel had failed with err.
func (m *Mux) Abort(err error) {
	m.fail(err)
}

func (m *Mux) transportError(ch Channel, err error) {
	m.mu.Lock()
	active := m.ch == ch
	m.mu.Unlock()

	if !active {
		m.log.Debug("ignoring error from inactive channel", zap.Error(err))
		return
	}
	m.fail(err)
}

// fail closes the Mux and settles every outstanding call and push handler
// with a *TransportError, each once: calls in id order, then handlers in
// the order their ids were first subscribed.
func (m *Mux) fail(err error) {
	terr := &TransportError{Err: err}
	m.log.Warn("transport failed", zap.Error(err))
	m.metrics.transportErrors.Inc()

	m.mu.Lock()
	ch := m.ch
	m.ch = nil
	m.state = StateClosed

	ids := make([]int64, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	calls := make([]*Call, len(ids))
	for n, id := range ids {
		calls[n] = m.pending[id]
	}

	var handlers []*handler
	for _, id := range m.pushIDs {
		handlers = append(handlers, m.pushes[id]...)
	}

	m.pending = make(map[int64]*Call)
	m.pushes = make(map[int64][]*handler)
	m.pushIDs = nil
	m.mu.Unlock()

	m.metrics.pending.Sub(float64(len(calls)))

	if ch != nil {
		if cerr := ch.Close(); cerr != nil {
			m.log.Debug("failed to close channel", zap.Error(cerr))
		}
	}

	for _, c := range calls {
		c.finish(nil, terr)
	}
	for _, h := range handlers {
		h.deliver(nil, terr)
	}
}

// Go sends a request and returns its Call without waiting. If check is
// set, a successful result failing it settles the call with a
// *TypeMismatchError.
func (m *Mux) Go(method string, params any, check TypeCheck) *Call {
	c := newCall(-1, method, check, m.codec)
	c.settled = m.metrics.observe

	var raw json.RawMessage
	if params != nil {
		b, err := m.codec.Encode(params)
		if err != nil {
			c.finish(nil, fmt.Errorf("rpcmux: encode %s params: %w", method, err))
			return c
		}
		raw = b
	}

	m.swap.RLock()
	defer m.swap.RUnlock()

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		c.finish(nil, ErrClosed)
		return c
	}
	id := m.nextID
	m.nextID++
	c.id = id
	c.abandon = func() { m.takePending(id) }
	m.pending[id] = c
	ch := m.ch
	m.mu.Unlock()

	m.metrics.requests.Inc()
	m.metrics.pending.Inc()

	msg, err := json.Marshal(request{ID: id, Method: method, Params: raw})
	if err == nil {
		err = ch.Send(msg)
	}
	if err != nil {
		if _, ok := m.takePending(id); ok {
			c.finish(nil, fmt.Errorf("rpcmux: send %s: %w", method, err))
		}
	}
	return c
}

// Request sends a request and waits for its result.
func (m *Mux) Request(ctx context.Context, method string, params any, check TypeCheck) (json.RawMessage, error) {
	return m.Go(method, params, check).Wait(ctx)
}

// Call sends a request and decodes its result into reply.
func (m *Mux) Call(ctx context.Context, method string, params, reply any) error {
	return m.Go(method, params, nil).Decode(ctx, reply)
}

func (m *Mux) takePending(id int64) (*Call, bool) {
	m.mu.Lock()
	c, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if ok {
		m.metrics.pending.Dec()
	}
	return c, ok
}

// Next returns a Call settled by the next push message with the given id.
// The wait is removed after that message, or when Wait gives up.
func (m *Mux) Next(id int64, check TypeCheck) (*Call, error) {
	if id >= 0 {
		return nil, ErrNotPushID
	}

	c := newCall(id, "", check, m.codec)
	key := m.keys.Add(1)
	c.abandon = func() { m.removeHandler(id, key) }

	err := m.addHandler(id, key, check, func(result json.RawMessage, err error) {
		m.removeHandler(id, key)
		c.finish(result, err)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Await waits for the next push message with the given id.
func (m *Mux) Await(ctx context.Context, id int64, check TypeCheck) (json.RawMessage, error) {
	c, err := m.Next(id, check)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx)
}

// Subscribe returns a Subscription firing for every push message with the
// given id until it is canceled. Canceling removes only this consumer.
func (m *Mux) Subscribe(id int64, check TypeCheck) (*reactive.Subscription[json.RawMessage], error) {
	if id >= 0 {
		return nil, ErrNotPushID
	}

	sub, e := reactive.Bind[json.RawMessage]()
	key := m.keys.Add(1)
	err := m.addHandler(id, key, check, func(result json.RawMessage, err error) {
		if err != nil {
			e.Error(err)
			return
		}
		e.Send(result)
	})
	if err != nil {
		return nil, err
	}
	e.OnCancel(func() { m.removeHandler(id, key) })
	return sub, nil
}

func (m *Mux) addHandler(id int64, key uint64, check TypeCheck, deliver func(json.RawMessage, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return ErrClosed
	}

	h := &handler{
		key:     key,
		check:   check,
		deliver: deliver,
	}

	hs, ok := m.pushes[id]
	if !ok {
		m.pushIDs = append(m.pushIDs, id)
	}
	m.pushes[id] = append(hs[:len(hs):len(hs)], h)
	return nil
}

func (m *Mux) removeHandler(id int64, key uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hs := m.pushes[id]
	i := slices.IndexFunc(hs, func(h *handler) bool { return h.key == key })
	if i < 0 {
		return
	}
	if len(hs) == 1 {
		delete(m.pushes, id)
		m.pushIDs = slices.DeleteFunc(m.pushIDs, func(v int64) bool { return v == id })
		return
	}
	m.pushes[id] = append(hs[:i:i], hs[i+1:]...)
}

// Handlers returns the number of push handlers registered for id.
func (m *Mux) Handlers(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pushes[id])
}

// Pending returns the number of requests awaiting a response.
func (m *Mux) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mux) dispatch(msg []byte) {
	var resp response
	if err := json.Unmarshal(msg, &resp); err != nil {
		m.log.Warn("dropping malformed message",
			zap.ByteString("msg", msg),
			zap.Error(err),
		)
		m.metrics.dropped.Inc()
		return
	}

	id, err := parseID(resp.ID)
	if err != nil {
		m.log.Warn("dropping message with invalid id",
			zap.ByteString("msg", msg),
			zap.Error(err),
		)
		m.metrics.dropped.Inc()
		return
	}

	if id >= 0 {
		c, ok := m.takePending(id)
		if !ok {
			m.log.Debug("dropping unmatched response", zap.Int64("id", id))
			m.metrics.dropped.Inc()
			return
		}
		c.finish(resp.outcome(c.check))
		return
	}

	m.mu.Lock()
	hs := m.pushes[id]
	m.mu.Unlock()

	if len(hs) == 0 {
		m.log.Debug("dropping push without handlers", zap.Int64("id", id))
		m.metrics.dropped.Inc()
		return
	}

	m.metrics.pushes.Inc()
	for _, h := range hs {
		h.deliver(resp.outcome(h.check))
	}
}
