// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is read from the environment (and a .env file), then overridden
// by flags.
type Config struct {
	Addr      string        `env:"RPCMUX_ADDR" envDefault:"ws://127.0.0.1:8080/rpc"`
	Timeout   time.Duration `env:"RPCMUX_TIMEOUT" envDefault:"10s"`
	LogLevel  string        `env:"RPCMUX_LOG_LEVEL" envDefault:"info"`
	Methods   []string      `env:"RPCMUX_METHODS" envSeparator:","`
	Params    string        `env:"RPCMUX_PARAMS"`
	PushID    int64         `env:"RPCMUX_PUSH_ID"`
	PushCount int           `env:"RPCMUX_PUSH_COUNT" envDefault:"1"`
}

func loadConfig(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	fset := flag.NewFlagSet("rpcmux", flag.ContinueOnError)
	fset.StringVar(&cfg.Addr, "addr", cfg.Addr, "server address (ws, wss, http, https or grpc URL)")
	fset.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fset.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	methods := fset.String("methods", strings.Join(cfg.Methods, ","), "comma separated methods to call")
	fset.StringVar(&cfg.Params, "params", cfg.Params, "JSON params sent with every method")
	fset.Int64Var(&cfg.PushID, "push-id", cfg.PushID, "negative push id to follow")
	fset.IntVar(&cfg.PushCount, "push-count", cfg.PushCount, "number of pushes to wait for")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Methods = nil
	for _, m := range strings.Split(*methods, ",") {
		if m = strings.TrimSpace(m); m != "" {
			cfg.Methods = append(cfg.Methods, m)
		}
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case len(c.Methods) == 0 && c.PushID == 0:
		return errors.New("nothing to do: set methods or a push id")
	case c.PushID > 0:
		return fmt.Errorf("push id %d is not negative", c.PushID)
	case c.PushID < 0 && c.PushCount < 1:
		return fmt.Errorf("push count %d is not positive", c.PushCount)
	case c.Params != "" && !json.Valid([]byte(c.Params)):
		return errors.New("params are not valid JSON")
	case c.Timeout <= 0:
		return fmt.Errorf("timeout %s is not positive", c.Timeout)
	}
	return nil
}
