// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcmux

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const namespace = "rpcmux"

// Response outcomes.
const (
	outcomeOK        = "ok"
	outcomeRPCError  = "rpc_error"
	outcomeMismatch  = "type_mismatch"
	outcomeTransport = "transport_error"
	outcomeCanceled  = "canceled"
	outcomeFailed    = "failed"
)

type metrics struct {
	requests        prometheus.Counter
	responses       *prometheus.CounterVec
	pushes          prometheus.Counter
	dropped         prometheus.Counter
	transportErrors prometheus.Counter
	pending         prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, log *zap.Logger) *metrics {
	m := &metrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of requests sent",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Number of settled requests by outcome",
		}, []string{"outcome"}),
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Number of push messages dispatched to handlers",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Number of inbound messages that were malformed or matched nothing",
		}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Number of fatal transport errors",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending",
			Help:      "Number of requests awaiting a response",
		}),
	}
	if reg == nil {
		return m
	}

	m.requests = register(reg, log, m.requests)
	m.responses = register(reg, log, m.responses)
	m.pushes = register(reg, log, m.pushes)
	m.dropped = register(reg, log, m.dropped)
	m.transportErrors = register(reg, log, m.transportErrors)
	m.pending = register(reg, log, m.pending)
	return m
}

// register registers c, or returns the equal collector registered before.
func register[C prometheus.Collector](reg prometheus.Registerer, log *zap.Logger, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	log.Warn("failed to register metric", zap.Error(err))
	return c
}

func (m *metrics) observe(err error) {
	m.responses.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	var (
		rerr *RPCError
		terr *TransportError
	)
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &rerr):
		return outcomeRPCError
	case errors.Is(err, ErrTypeMismatch):
		return outcomeMismatch
	case errors.As(err, &terr):
		return outcomeTransport
	case isContextErr(err):
		return outcomeCanceled
	default:
		return outcomeFailed
	}
}
