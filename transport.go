// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// DialFunc opens a Channel to addr.
type DialFunc func(ctx context.Context, addr string) (Channel, error)

var (
	dialersMu sync.RWMutex
	dialers   = map[string]DialFunc{}
)

// RegisterDialer makes a Channel dialer available for addresses with the
// given URL scheme. Transport packages call it from init. Registering a
// scheme again replaces the previous dialer.
func RegisterDialer(scheme string, dial DialFunc) {
	if dial == nil {
		panic("rpcmux: RegisterDialer dial is nil")
	}

	dialersMu.Lock()
	defer dialersMu.Unlock()
	dialers[strings.ToLower(scheme)] = dial
}

// AvailableSchemes returns the sorted list of registered schemes
func AvailableSchemes() []string {
	dialersMu.RLock()
	defer dialersMu.RUnlock()
	result := make([]string, 0, len(dialers))
	for scheme := range dialers {
		result = append(result, scheme)
	}
	slices.Sort(result)
	return result
}

// HasScheme checks if a dialer is registered for scheme
func HasScheme(scheme string) bool {
	dialersMu.RLock()
	defer dialersMu.RUnlock()
	_, ok := dialers[strings.ToLower(scheme)]
	return ok
}

func lookupDialer(scheme string) (DialFunc, bool) {
	dialersMu.RLock()
	defer dialersMu.RUnlock()
	dial, ok := dialers[strings.ToLower(scheme)]
	return dial, ok
}
