// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"context"
	"fmt"
	"net/url"
)

// DialChannel opens a Channel to addr with the dialer registered for the
// address's URL scheme.
func DialChannel(ctx context.Context, addr string) (Channel, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("rpcmux: parse address: %w", err)
	}

	dial, ok := lookupDialer(u.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
	}

	ch, err := dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("rpcmux: dial %s: %w", u.Scheme, err)
	}
	return ch, nil
}

// Dial connects to addr and returns a Mux on the new Channel. The transport
// is picked by the address's URL scheme; import a transport package to
// register its schemes:
//
//	import _ "github.com/luxfi/rpcmux/wschan"
func Dial(ctx context.Context, addr string, opts ...Option) (*Mux, error) {
	ch, err := DialChannel(ctx, addr)
	if err != nil {
		return nil, err
	}
	return New(ch, opts...), nil
}

// Redial dials addr and makes the new Channel active on m.
func (m *Mux) Redial(ctx context.Context, addr string) error {
	ch, err := DialChannel(ctx, addr)
	if err != nil {
		return err
	}
	return m.Reconnect(ch)
}
