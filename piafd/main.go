// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The piafd command runs a demo piaf server. It answers every request
// with the protocol the connection ended up speaking, which makes it
// handy for poking at ALPN and h2c negotiation:
//
//	piafd -addr localhost:8080 -h2c
//	curl --http2 http://localhost:8080/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/allancalix/piaf"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	addr       = flag.String("addr", "localhost:8080", "cleartext host:port to listen on")
	workers    = flag.Int("workers", 1, "accept loops per listening socket")
	h2c        = flag.Bool("h2c", false, "allow the cleartext HTTP/1.1 -> HTTP/2 upgrade")
	verbose    = flag.Bool("verbose", false, "debug logging")
)

func main() {
	flag.Parse()

	fc := new(fileConfig)
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "piafd:", err)
			os.Exit(1)
		}
		fc = loaded
	}

	log := newLogger(fc, *verbose)

	cfg, err := fc.serverConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "piafd:", err)
		os.Exit(1)
	}
	if *configPath == "" {
		cfg.Addr = *addr
		cfg.Workers = *workers
		cfg.H2CUpgrade = *h2c
	}
	cfg.Logger = log
	cfg.Handler = http.HandlerFunc(greet)

	srv, err := piaf.NewServer(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "piafd:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func greet(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "Hello from piafd. You're speaking "+r.Proto+".\n")
}

// newLogger builds the process logger: human-readable text when stderr
// is a terminal, JSON otherwise, unless the config says which.
func newLogger(fc *fileConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	switch fc.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	format := fc.Log.Format
	if format == "" {
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		} else {
			format = "json"
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
