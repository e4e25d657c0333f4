// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package grpcchan carries rpcmux messages over one bidirectional gRPC
// stream. Importing it registers the grpc scheme with rpcmux.Dial.
package grpcchan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/luxfi/rpcmux"
)

const (
	ServiceName = "rpcmux.Channel"
	StreamName  = "Stream"
	FullMethod  = "/" + ServiceName + "/" + StreamName
)

// ErrClosed is returned when sending on a closed Conn.
var ErrClosed = errors.New("grpcchan: connection closed")

var streamDesc = grpc.StreamDesc{
	StreamName:    StreamName,
	ServerStreams: true,
	ClientStreams: true,
}

func init() {
	rpcmux.RegisterDialer("grpc", func(ctx context.Context, addr string) (rpcmux.Channel, error) {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, err
		}
		return Dial(ctx, u.Host)
	})
}

// Conn is an rpcmux.Channel on a gRPC stream.
type Conn struct {
	cc     *grpc.ClientConn
	owned  bool
	stream grpc.ClientStream
	cancel context.CancelFunc
	log    *zap.Logger

	writeMu sync.Mutex
	listen  sync.Once
	closed  atomic.Bool
	done    chan struct{}
}

// Dial connects to target and opens the stream. The connection is closed
// with the Conn.
func Dial(ctx context.Context, target string, opts ...Option) (*Conn, error) {
	o := newOptions(opts)

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, o.dialOptions...)
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpcchan: dial %s: %w", target, err)
	}

	c, err := NewConn(ctx, cc, opts...)
	if err != nil {
		_ = cc.Close()
		return nil, err
	}
	c.owned = true
	return c, nil
}

// NewConn opens the stream on an existing connection. The stream outlives
// ctx and ends when the Conn is closed; cc is left open.
func NewConn(ctx context.Context, cc *grpc.ClientConn, opts ...Option) (*Conn, error) {
	o := newOptions(opts)

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := cc.NewStream(sctx, &streamDesc, FullMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("grpcchan: open stream: %w", err)
	}

	return &Conn{
		cc:     cc,
		stream: stream,
		cancel: cancel,
		log:    o.log.With(zap.String("target", cc.Target())),
		done:   make(chan struct{}),
	}, nil
}

func (c *Conn) Send(msg []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.stream.SendMsg(msg); err != nil {
		return fmt.Errorf("grpcchan: send: %w", err)
	}
	return nil
}

// Listen starts the receive loop. Only the first call has an effect.
func (c *Conn) Listen(onMessage func([]byte), onError func(error)) {
	c.listen.Do(func() {
		go c.readLoop(onMessage, onError)
	})
}

func (c *Conn) readLoop(onMessage func([]byte), onError func(error)) {
	defer close(c.done)

	for {
		var msg []byte
		if err := c.stream.RecvMsg(&msg); err != nil {
			if c.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			c.log.Debug("receive failed", zap.Error(err))
			onError(fmt.Errorf("grpcchan: receive: %w", err))
			return
		}
		onMessage(msg)
	}
}

// Done is closed when the receive loop has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close ends the stream, and closes the connection if Dial opened it.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.writeMu.Lock()
	err := c.stream.CloseSend()
	c.writeMu.Unlock()
	c.cancel()

	if c.owned {
		err = multierr.Append(err, c.cc.Close())
	}
	return err
}
