// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command rpcmux calls methods on a server and follows push streams.
//
//	rpcmux -addr ws://localhost:8080/rpc -methods Node.Status,Node.Peers
//	rpcmux -addr http://localhost:9650/ext/info -methods info.getNodeID
//	rpcmux -addr grpc://localhost:9000 -push-id -1 -push-count 5
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/luxfi/rpcmux"
	"github.com/luxfi/rpcmux/reactive"

	_ "github.com/luxfi/rpcmux/grpcchan"
	_ "github.com/luxfi/rpcmux/httpchan"
	_ "github.com/luxfi/rpcmux/wschan"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Stdout); err != nil {
		log.Error("failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	return cfg.Build()
}

func run(ctx context.Context, cfg Config, log *zap.Logger, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	mux, err := rpcmux.Dial(ctx, cfg.Addr, rpcmux.WithLogger(log))
	if err != nil {
		return err
	}
	defer mux.Close()

	var params any
	if cfg.Params != "" {
		params = json.RawMessage(cfg.Params)
	}

	var (
		tracker reactive.Tracker
		outMu   sync.Mutex
	)
	emit := func(name string, v json.RawMessage) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, "%s: %s\n", name, v)
	}

	complete := make(chan reactive.Progress, 1)
	tracker.OnComplete(func(p reactive.Progress) {
		select {
		case complete <- p:
		default:
		}
	})
	tracker.OnUpdate(func(p reactive.Progress) {
		log.Debug("progress",
			zap.Int("waits", p.Waits),
			zap.Int("done", p.Done),
			zap.Int("errors", p.Errors),
		)
	})

	// All work is added before any of it can finish, so completion fires
	// once.
	for range cfg.Methods {
		tracker.Add()
	}
	if cfg.PushID < 0 {
		tracker.Add()
		if err := follow(mux, cfg, &tracker, log, emit); err != nil {
			return err
		}
	}

	for _, method := range cfg.Methods {
		method := method
		c := mux.Go(method, params, nil)
		go func() {
			res, err := c.Wait(ctx)
			if err != nil {
				log.Warn("request failed", zap.String("method", method), zap.Error(err))
				tracker.Error()
				return
			}
			emit(method, res)
			tracker.Done()
		}()
	}

	select {
	case p := <-complete:
		if p.Errors > 0 {
			return fmt.Errorf("%d of %d calls failed", p.Errors, p.Waits)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// follow prints cfg.PushCount pushes on cfg.PushID, then cancels.
func follow(mux *rpcmux.Mux, cfg Config, tracker *reactive.Tracker, log *zap.Logger, emit func(string, json.RawMessage)) error {
	sub, err := mux.Subscribe(cfg.PushID, nil)
	if err != nil {
		return err
	}

	var (
		name = fmt.Sprintf("push %d", cfg.PushID)
		once sync.Once
		mu   sync.Mutex
		seen int
	)
	finish := func(failed bool) {
		once.Do(func() {
			sub.Cancel()
			if failed {
				tracker.Error()
				return
			}
			tracker.Done()
		})
	}

	sub.When(func(v json.RawMessage) (json.RawMessage, error) {
		mu.Lock()
		seen++
		n := seen
		mu.Unlock()

		if n <= cfg.PushCount {
			emit(name, v)
		}
		if n >= cfg.PushCount {
			finish(false)
		}
		return v, nil
	}, func(err error) (json.RawMessage, error) {
		log.Warn("push failed", zap.Int64("id", cfg.PushID), zap.Error(err))
		finish(true)
		return nil, nil
	})
	return nil
}
