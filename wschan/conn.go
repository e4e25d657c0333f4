// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wschan carries rpcmux messages over a WebSocket. Importing it
// registers the ws and wss schemes with rpcmux.Dial.
package wschan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luxfi/rpcmux"
)

const closeTimeout = time.Second

// ErrClosed is returned when sending on a closed Conn.
var ErrClosed = errors.New("wschan: connection closed")

func init() {
	dial := func(ctx context.Context, addr string) (rpcmux.Channel, error) {
		return Dial(ctx, addr)
	}
	rpcmux.RegisterDialer("ws", dial)
	rpcmux.RegisterDialer("wss", dial)
}

// Conn is an rpcmux.Channel on a WebSocket connection. Every message is one
// text frame.
type Conn struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex
	listen  sync.Once
	closed  atomic.Bool
	done    chan struct{}
}

// New wraps an established WebSocket connection.
func New(conn *websocket.Conn, opts ...Option) *Conn {
	o := newOptions(opts)
	if o.readLimit > 0 {
		conn.SetReadLimit(o.readLimit)
	}
	return &Conn{
		conn: conn,
		log:  o.log.With(zap.Stringer("remote", conn.RemoteAddr())),
		done: make(chan struct{}),
	}
}

// Dial opens a WebSocket connection to url.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	o := newOptions(opts)

	d := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: o.handshakeTimeout,
	}
	conn, resp, err := d.DialContext(ctx, url, o.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("wschan: dial %s: %w", url, err)
	}
	return New(conn, opts...), nil
}

// Send writes msg as a text frame.
func (c *Conn) Send(msg []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("wschan: write: %w", err)
	}
	return nil
}

// Listen starts the read loop. Only the first call has an effect.
func (c *Conn) Listen(onMessage func([]byte), onError func(error)) {
	c.listen.Do(func() {
		go c.readLoop(onMessage, onError)
	})
}

func (c *Conn) readLoop(onMessage func([]byte), onError func(error)) {
	defer close(c.done)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.log.Debug("read failed", zap.Error(err))
			onError(fmt.Errorf("wschan: read: %w", err))
			return
		}
		onMessage(msg)
	}
}

// Done is closed when the read loop has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and closes the connection. Read errors caused
// by Close are not reported.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return multierr.Combine(err, c.conn.Close())
}
