// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package grpcchan

import (
	"context"

	"google.golang.org/grpc"
)

// Handler serves one client stream. The stream ends when Handler returns.
type Handler func(stream *ServerStream) error

// ServerStream is the server side of a client's Conn.
type ServerStream struct {
	ss grpc.ServerStream
}

// Recv blocks for the next message from the client. It returns io.EOF once
// the client has closed its side.
func (s *ServerStream) Recv() ([]byte, error) {
	var msg []byte
	if err := s.ss.RecvMsg(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Send writes a message to the client. It is not safe to call Send from
// several goroutines at once.
func (s *ServerStream) Send(msg []byte) error {
	return s.ss.SendMsg(msg)
}

func (s *ServerStream) Context() context.Context {
	return s.ss.Context()
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    StreamName,
		ServerStreams: true,
		ClientStreams: true,
		Handler: func(srv any, ss grpc.ServerStream) error {
			return srv.(Handler)(&ServerStream{ss: ss})
		},
	}},
}

// Register serves h on s for every client stream.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&serviceDesc, h)
}
