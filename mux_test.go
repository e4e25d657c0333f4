// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRequestWire(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	m.Go("Echo.Hello", map[string]string{"name": "lux"}, nil)
	m.Go("Echo.Ping", nil, nil)

	ch.mu.Lock()
	sent := ch.sent
	ch.mu.Unlock()

	require.Len(t, sent, 2)
	assert.JSONEq(t, `{"id":0,"method":"Echo.Hello","params":{"name":"lux"}}`, string(sent[0]))
	assert.JSONEq(t, `{"id":1,"method":"Echo.Ping"}`, string(sent[1]))
}

func TestOutOfOrderResponses(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	c0 := m.Go("first", nil, nil)
	c1 := m.Go("second", nil, nil)
	require.Equal(t, []int64{0, 1}, ids(ch.requests(t)))

	ch.deliver(`{"id":1,"result":"one"}`)
	require.True(t, settled(c1))
	require.False(t, settled(c0))

	res, err := c1.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `"one"`, string(res))

	ch.deliver(`{"id":0,"result":"zero"}`)
	res, err = c0.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `"zero"`, string(res))
	assert.Zero(t, m.Pending())
}

func TestDuplicateResponseIgnored(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	c := m.Go("once", nil, nil)
	ch.deliver(`{"id":0,"result":1}`)
	ch.deliver(`{"id":0,"result":2}`)

	res, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, "1", string(res))
}

func TestBufferingFlushOnReconnect(t *testing.T) {
	m := New(nil)
	require.Equal(t, StateBuffering, m.State())

	a := m.Go("a", nil, nil)
	m.Go("b", []int{1}, nil)
	m.Go("c", nil, nil)
	require.False(t, settled(a))

	ch := newFakeChannel()
	require.NoError(t, m.Reconnect(ch))
	require.Equal(t, StateConnected, m.State())

	reqs := ch.requests(t)
	assert.Equal(t, []string{"a", "b", "c"}, methods(reqs))
	assert.Equal(t, []int64{0, 1, 2}, ids(reqs))

	ch.deliver(`{"id":0,"result":null}`)
	_, err := a.Result()
	assert.NoError(t, err)
}

func TestReconnectKeepsPendingAndIDs(t *testing.T) {
	first := newFakeChannel()
	m := New(first)

	c := m.Go("slow", nil, nil)

	second := newFakeChannel()
	require.NoError(t, m.Reconnect(second))
	assert.Equal(t, 1, first.closed())

	m.Go("next", nil, nil)
	assert.Equal(t, []int64{1}, ids(second.requests(t)), "ids are not reset by Reconnect")

	second.deliver(`{"id":0,"result":true}`)
	_, err := c.Result()
	assert.NoError(t, err)
}

func TestReconnectToBuffering(t *testing.T) {
	first := newFakeChannel()
	m := New(first)

	require.NoError(t, m.Reconnect(nil))
	assert.Equal(t, StateBuffering, m.State())

	m.Go("queued", nil, nil)
	assert.Empty(t, first.requests(t))

	second := newFakeChannel()
	require.NoError(t, m.Reconnect(second))
	assert.Equal(t, []string{"queued"}, methods(second.requests(t)))
}

func TestReconnectSameChannel(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	require.NoError(t, m.Reconnect(ch))
	assert.Zero(t, ch.closed())
}

func TestTypeCheckFailure(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	c := m.Go("getName", nil, Kind(KindString))
	ch.deliver(`{"id":0,"result":42}`)

	_, err := c.Result()
	require.ErrorIs(t, err, ErrTypeMismatch)

	var terr *TypeMismatchError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "42", string(terr.Result))
}

func TestRPCError(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	c := m.Go("missing", nil, Kind(KindString))
	ch.deliver(`{"id":0,"error":{"code":-32601,"message":"method not found","data":{"method":"missing"}}}`)

	_, err := c.Result()
	var rerr *RPCError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, CodeMethodNotFound, rerr.Code)
	assert.Equal(t, "method not found", rerr.Message)
	assert.Equal(t, map[string]any{"method": "missing"}, rerr.Data)
	assert.Contains(t, err.Error(), "-32601")
}

func TestStringIDCoercion(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	m.Go("a", nil, nil)
	c := m.Go("b", nil, nil)
	ch.deliver(`{"id":"1","result":"ok"}`)

	res, err := c.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(res))

	sub, err := m.Subscribe(-4, nil)
	require.NoError(t, err)

	var got int
	sub.When(func(v json.RawMessage) (json.RawMessage, error) {
		got++
		return v, nil
	}, nil)
	ch.deliver(`{"id":"-4","result":1}`)
	assert.Equal(t, 1, got)
}

func TestMalformedMessagesDropped(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch, WithLogger(zaptest.NewLogger(t)))

	c := m.Go("a", nil, nil)
	for _, msg := range []string{
		`not json`,
		`{"result":1}`,
		`{"id":null,"result":1}`,
		`{"id":"abc","result":1}`,
		`{"id":1.5,"result":1}`,
		`{"id":7,"result":1}`,
		`{"id":-9,"result":1}`,
	} {
		require.NotPanics(t, func() { ch.deliver(msg) }, msg)
	}

	assert.False(t, settled(c))
	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, 7.0, testutil.ToFloat64(m.metrics.dropped))
}

func TestSubscribe(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	sub, err := m.Subscribe(-1, nil)
	require.NoError(t, err)
	other, err := m.Subscribe(-1, nil)
	require.NoError(t, err)

	var calls, otherCalls int
	sub.When(func(v json.RawMessage) (json.RawMessage, error) {
		calls++
		return v, nil
	}, nil)
	other.When(func(v json.RawMessage) (json.RawMessage, error) {
		otherCalls++
		return v, nil
	}, nil)

	for i := 0; i < 3; i++ {
		ch.deliver(`{"id":-1,"result":{"event":"tick"}}`)
	}
	require.Equal(t, 3, calls)

	sub.Cancel()
	ch.deliver(`{"id":-1,"result":{"event":"tick"}}`)

	assert.Equal(t, 3, calls)
	assert.Equal(t, 4, otherCalls, "canceling one subscriber leaves the others")
	assert.Equal(t, 1, m.Handlers(-1))

	other.Cancel()
	assert.Zero(t, m.Handlers(-1))
}

func TestSubscribeErrorsAndTypeCheck(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	sub, err := m.Subscribe(-2, Kind(KindObject))
	require.NoError(t, err)

	var (
		values []string
		errs   []error
	)
	sub.When(func(v json.RawMessage) (json.RawMessage, error) {
		values = append(values, string(v))
		return v, nil
	}, func(err error) (json.RawMessage, error) {
		errs = append(errs, err)
		return nil, nil
	})

	ch.deliver(`{"id":-2,"result":{"a":1}}`)
	ch.deliver(`{"id":-2,"result":[1]}`)
	ch.deliver(`{"id":-2,"error":{"code":-32000,"message":"server busy"}}`)

	assert.Equal(t, []string{`{"a":1}`}, values)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], ErrTypeMismatch)

	var rerr *RPCError
	require.ErrorAs(t, errs[1], &rerr)
	assert.Equal(t, CodeServer, rerr.Code)
}

func TestPushHandlersMaySubscribeAndCancel(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	first, err := m.Subscribe(-1, nil)
	require.NoError(t, err)
	second, err := m.Subscribe(-1, nil)
	require.NoError(t, err)

	var order []string
	first.When(func(v json.RawMessage) (json.RawMessage, error) {
		order = append(order, "first")
		second.Cancel()
		_, err := m.Subscribe(-1, nil)
		return v, err
	}, nil)
	second.When(func(v json.RawMessage) (json.RawMessage, error) {
		order = append(order, "second")
		return v, nil
	}, nil)

	ch.deliver(`{"id":-1,"result":1}`)

	assert.Equal(t, []string{"first", "second"}, order, "handlers present at dispatch all run")
	assert.Equal(t, 2, m.Handlers(-1))
}

func TestNext(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	c, err := m.Next(-3, nil)
	require.NoError(t, err)
	require.Equal(t, 1, m.Handlers(-3))
	assert.Equal(t, int64(-3), c.ID())

	ch.deliver(`{"id":-3,"result":"ready"}`)
	res, err := c.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `"ready"`, string(res))
	assert.Zero(t, m.Handlers(-3))

	ch.deliver(`{"id":-3,"result":"again"}`)
	res, _ = c.Result()
	assert.JSONEq(t, `"ready"`, string(res))
}

func TestAwaitContextCanceled(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Await(ctx, -5, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, m.Handlers(-5))
}

func TestWaitAbandon(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Request(ctx, "slow", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.Pending())

	require.NotPanics(t, func() { ch.deliver(`{"id":0,"result":1}`) })
}

func TestNotPushID(t *testing.T) {
	m := New(newFakeChannel())

	_, err := m.Next(0, nil)
	assert.ErrorIs(t, err, ErrNotPushID)

	_, err = m.Subscribe(3, nil)
	assert.ErrorIs(t, err, ErrNotPushID)

	_, err = m.Await(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrNotPushID)
}

func TestTransportErrorSettlesEverything(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	c0 := m.Go("a", nil, nil)
	c1 := m.Go("b", nil, nil)
	sub, err := m.Subscribe(-1, nil)
	require.NoError(t, err)

	var subErrs []error
	sub.Catch(func(err error) (json.RawMessage, error) {
		subErrs = append(subErrs, err)
		return nil, nil
	})

	ch.fail(errBoom)

	for _, c := range []*Call{c0, c1} {
		_, err := c.Result()
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.ErrorIs(t, err, errBoom)
	}
	require.Len(t, subErrs, 1)
	assert.ErrorIs(t, subErrs[0], errBoom)

	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, 1, ch.closed())
	assert.Zero(t, m.Pending())
	assert.Zero(t, m.Handlers(-1))

	sent := len(ch.requests(t))
	_, err = m.Go("c", nil, nil).Result()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Len(t, ch.requests(t), sent, "nothing is sent after a transport error")

	ch.fail(errBoom)
	assert.Len(t, subErrs, 1, "a second error does not settle anything twice")
}

func TestTransportErrorOrder(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	var order []string
	calls := []*Call{m.Go("a", nil, nil), m.Go("b", nil, nil), m.Go("c", nil, nil)}
	for _, n := range []int{1, 0, 2} {
		name := fmt.Sprintf("call%d", n)
		calls[n].settled = func(error) { order = append(order, name) }
	}

	for _, id := range []int64{-7, -1, -7} {
		sub, err := m.Subscribe(id, nil)
		require.NoError(t, err)

		name := fmt.Sprintf("push%d", id)
		sub.Catch(func(error) (json.RawMessage, error) {
			order = append(order, name)
			return nil, nil
		})
	}

	m.Abort(errBoom)
	assert.Equal(t, []string{"call0", "call1", "call2", "push-7", "push-7", "push-1"}, order)
}

func TestErrorFromInactiveChannelIgnored(t *testing.T) {
	first := newFakeChannel()
	m := New(first)

	c := m.Go("a", nil, nil)
	second := newFakeChannel()
	require.NoError(t, m.Reconnect(second))

	first.fail(errBoom)
	assert.Equal(t, StateConnected, m.State())
	assert.False(t, settled(c))
}

func TestSendFailure(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = errBoom
	m := New(ch)

	_, err := m.Go("a", nil, nil).Result()
	require.ErrorIs(t, err, errBoom)
	assert.Zero(t, m.Pending())
	assert.Equal(t, StateConnected, m.State(), "a failed send is not a transport error")
}

func TestEncodeFailure(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	_, err := m.Go("a", make(chan int), nil).Result()
	require.Error(t, err)
	assert.Empty(t, ch.requests(t))
}

func TestCloseAndReconnect(t *testing.T) {
	first := newFakeChannel()
	m := New(first)

	pending := m.Go("a", nil, nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, 1, first.closed())
	assert.False(t, settled(pending), "Close does not settle pending calls")

	_, err := m.Go("b", nil, nil).Result()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Subscribe(-1, nil)
	assert.ErrorIs(t, err, ErrClosed)

	first.fail(errBoom)
	assert.False(t, settled(pending), "errors after Close are ignored")

	second := newFakeChannel()
	require.NoError(t, m.Reconnect(second))
	assert.Equal(t, StateConnected, m.State())

	c := m.Go("c", nil, nil)
	assert.Equal(t, int64(1), c.ID())

	second.deliver(`{"id":0,"result":"late"}`)
	res, err := pending.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `"late"`, string(res))
}

func TestCloseWhileBuffering(t *testing.T) {
	m := New(nil)
	c := m.Go("a", nil, nil)

	err := m.Close()
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, settled(c))

	ch := newFakeChannel()
	require.NoError(t, m.Reconnect(ch))
	assert.Empty(t, ch.requests(t), "requests buffered before Close are dropped")
	assert.False(t, settled(c))

	m.Abort(errBoom)
	_, err = c.Result()
	assert.ErrorIs(t, err, errBoom)
}

func TestCall(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	type sum struct {
		Sum int `json:"sum"`
	}

	done := make(chan error, 1)
	var reply sum
	go func() {
		done <- m.Call(context.Background(), "Arith.Add", []int{2, 3}, &reply)
	}()

	require.Eventually(t, func() bool { return len(ch.requests(t)) == 1 }, time.Second, time.Millisecond)
	ch.deliver(`{"id":0,"result":{"sum":5}}`)

	require.NoError(t, <-done)
	assert.Equal(t, 5, reply.Sum)
}

func TestCallStrictCodec(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch, WithCodec(StrictJSONCodec{}))

	c := m.Go("get", nil, nil)
	ch.deliver(`{"id":0,"result":{"a":1,"b":2}}`)

	var reply struct {
		A int `json:"a"`
	}
	err := c.Decode(context.Background(), &reply)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode get result")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ch := newFakeChannel()
	m := New(ch, WithRegisterer(reg))

	m.Go("a", nil, nil)
	m.Go("b", nil, Kind(KindString))
	m.Go("c", nil, nil)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.metrics.pending))

	ch.deliver(`{"id":0,"result":1}`)
	ch.deliver(`{"id":1,"result":1}`)
	ch.fail(errBoom)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.metrics.requests))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.metrics.pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.responses.WithLabelValues(outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.responses.WithLabelValues(outcomeMismatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.responses.WithLabelValues(outcomeTransport)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.transportErrors))

	other := New(newFakeChannel(), WithRegisterer(reg))
	other.Go("d", nil, nil)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.metrics.requests), "muxes on one registerer share collectors")

	n, err := testutil.GatherAndCount(reg, "rpcmux_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, outcomeOK, outcome(nil))
	assert.Equal(t, outcomeRPCError, outcome(&RPCError{Code: CodeInternal}))
	assert.Equal(t, outcomeMismatch, outcome(&TypeMismatchError{}))
	assert.Equal(t, outcomeTransport, outcome(&TransportError{Err: errBoom}))
	assert.Equal(t, outcomeCanceled, outcome(context.Canceled))
	assert.Equal(t, outcomeFailed, outcome(ErrClosed))
}

func TestTypeCheckPanicFailsCall(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	c := m.Go("getName", nil, func(json.RawMessage) bool { panic("bad check") })
	require.NotPanics(t, func() { ch.deliver(`{"id":0,"result":"x"}`) })

	_, err := c.Result()
	require.ErrorIs(t, err, ErrTypeMismatch)

	var terr *TypeMismatchError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "bad check", terr.Panic)
	assert.Zero(t, m.Pending())

	next := m.Go("next", nil, nil)
	ch.deliver(`{"id":1,"result":1}`)
	_, err = next.Result()
	assert.NoError(t, err)
}

func TestTypeCheckPanicFailsHandler(t *testing.T) {
	ch := newFakeChannel()
	m := New(ch)

	bad, err := m.Subscribe(-1, func(json.RawMessage) bool { panic("bad check") })
	require.NoError(t, err)
	good, err := m.Subscribe(-1, nil)
	require.NoError(t, err)

	var (
		errs   []error
		values []string
	)
	bad.Catch(func(err error) (json.RawMessage, error) {
		errs = append(errs, err)
		return nil, nil
	})
	good.When(func(v json.RawMessage) (json.RawMessage, error) {
		values = append(values, string(v))
		return v, nil
	}, nil)

	require.NotPanics(t, func() { ch.deliver(`{"id":-1,"result":7}`) })

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrTypeMismatch)
	assert.Equal(t, []string{"7"}, values, "other handlers still run")
}

// listenHookChannel runs onListen when the Mux attaches to it.
type listenHookChannel struct {
	*fakeChannel
	onListen func()
}

func (c *listenHookChannel) Listen(onMessage func([]byte), onError func(error)) {
	c.fakeChannel.Listen(onMessage, onError)
	c.onListen()
}

func TestReconnectFlushesBeforeNewRequests(t *testing.T) {
	m := New(nil)
	m.Go("buffered", nil, nil)

	var wg sync.WaitGroup
	ch := &listenHookChannel{
		fakeChannel: newFakeChannel(),
		onListen: func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.Go("late", nil, nil)
			}()
			time.Sleep(20 * time.Millisecond)
		},
	}

	require.NoError(t, m.Reconnect(ch))
	wg.Wait()

	assert.Equal(t, []string{"buffered", "late"}, methods(ch.requests(t)))
}
