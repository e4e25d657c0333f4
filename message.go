// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gorilla/rpc/v2/json2"
)

// request is the outbound message.
type request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is an inbound message: a response to a request (id >= 0) or a
// push message (id < 0).
type response struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *json2.Error    `json:"error,omitempty"`
}

// outcome applies the error field and check to the response.
func (r *response) outcome(check TypeCheck) (json.RawMessage, error) {
	if r.Error != nil {
		return nil, newRPCError(r.Error)
	}
	if check != nil {
		if err := runCheck(check, r.Result); err != nil {
			return nil, err
		}
	}
	return r.Result, nil
}

// runCheck reports a failed or panicking check as a *TypeMismatchError, so
// a bad check fails only the call or handler it was given to.
func runCheck(check TypeCheck, result json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &TypeMismatchError{Result: result, Panic: p}
		}
	}()
	if !check(result) {
		return &TypeMismatchError{Result: result}
	}
	return nil
}

// parseID reads a numeric or string id. Strings are read like a base-10
// integer prefix, so "12" and " 12abc" are both 12.
func parseID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errMissingID
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("invalid id %s: %w", raw, err)
		}
		return parseIntPrefix(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("invalid id %s: %w", raw, err)
	}
	if id, err := n.Int64(); err == nil {
		return id, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, fmt.Errorf("invalid id %s", raw)
	}
	return int64(f), nil
}

func parseIntPrefix(s string) (int64, error) {
	s = strings.TrimSpace(s)

	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return strconv.ParseInt(s[:end], 10, 64)
}
