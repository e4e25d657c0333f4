// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	errBoom          = errors.New("boom")
	errChannelClosed = errors.New("fake channel closed")
)

// fakeChannel records sent messages and lets the test deliver inbound
// messages and errors.
type fakeChannel struct {
	mu        sync.Mutex
	sent      [][]byte
	closes    int
	sendErr   error
	onMessage func([]byte)
	onError   func(error)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (f *fakeChannel) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closes > 0 {
		return errChannelClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeChannel) Listen(onMessage func([]byte), onError func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage, f.onError = onMessage, onError
}

func (f *fakeChannel) deliver(msg string) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	fn([]byte(msg))
}

func (f *fakeChannel) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

func (f *fakeChannel) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// requests decodes the sent messages.
func (f *fakeChannel) requests(t *testing.T) []request {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]request, len(f.sent))
	for n, msg := range f.sent {
		require.NoError(t, json.Unmarshal(msg, &out[n]))
	}
	return out
}

func methods(reqs []request) []string {
	out := make([]string, len(reqs))
	for n, r := range reqs {
		out[n] = r.Method
	}
	return out
}

func ids(reqs []request) []int64 {
	out := make([]int64, len(reqs))
	for n, r := range reqs {
		out[n] = r.ID
	}
	return out
}

func settled(c *Call) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}
