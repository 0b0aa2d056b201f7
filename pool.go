// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package piaf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/allancalix/piaf/internal/netsys"
)

// An acceptorPool owns one listening socket and the accept loops bound
// to it. The socket is shared accept-only across the loops; nothing
// mutates it after listenPool returns, so no locking is needed beyond
// what the net package provides for concurrent Accept.
type acceptorPool struct {
	ln       net.Listener
	releases []func()
}

// listenPool binds one listening socket on addr and starts cfg.Workers
// accept loops on it, each handling its connections with serve. It does
// not return until every loop has started.
func (s *Server) listenPool(ctx context.Context, addr string, serve func(context.Context, net.Conn)) (*acceptorPool, error) {
	ln, err := netsys.Listen(ctx, "tcp", addr, s.cfg.Backlog)
	if err != nil {
		return nil, err
	}

	p := &acceptorPool{ln: ln}
	var started sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		w := &acceptWorker{
			ln:      ln,
			log:     s.log.With("listener", ln.Addr().String(), "worker", i),
			errh:    s.errh,
			serve:   serve,
			release: make(chan struct{}),
		}
		started.Add(1)
		go w.run(ctx, &started)
		p.releases = append(p.releases, w.releaseFunc())
	}
	started.Wait()
	return p, nil
}

// An acceptWorker is one accept loop. Its only state is the release
// channel; closing it is the loop's cancellation point.
type acceptWorker struct {
	ln      net.Listener
	log     *slog.Logger
	errh    ErrorHandler
	serve   func(context.Context, net.Conn)
	release chan struct{}
	once    sync.Once
}

// releaseFunc returns the worker's release action. It is idempotent and
// never blocks: it stops the worker from starting new accepts but leaves
// any in-flight connection handler, and the shared listening socket,
// alone.
func (w *acceptWorker) releaseFunc() func() {
	return func() {
		w.once.Do(func() { close(w.release) })
	}
}

// run races "release requested" against "a connection was accepted" and
// forks a handling task per connection. The blocking accepts live in
// pump; a pending accept is simply abandoned when release wins, to be
// unblocked later by the socket close during shutdown.
func (w *acceptWorker) run(ctx context.Context, started *sync.WaitGroup) {
	conns := make(chan net.Conn)
	go w.pump(conns)
	started.Done()
	for {
		select {
		case <-w.release:
			return
		case c, ok := <-conns:
			if !ok {
				return
			}
			go w.handle(ctx, c)
		}
	}
}

// pump performs the blocking accept calls for one worker. Accept errors
// are logged and the loop moves on; only the listening socket going away
// ends it.
func (w *acceptWorker) pump(conns chan<- net.Conn) {
	defer close(conns)
	for {
		c, err := w.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			w.log.Error("accept failed", "error", err)
			time.Sleep(10 * time.Millisecond) // don't spin on persistent errors
			continue
		}
		select {
		case conns <- c:
		case <-w.release:
			// Released with an accept already won; there is no loop
			// left to run this connection.
			c.Close()
			return
		}
	}
}

// handle runs the connection dispatcher for one accepted connection.
// Failures, including panics, are contained here so one bad connection
// cannot abort the accept loop.
func (w *acceptWorker) handle(ctx context.Context, c net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			w.errh(c.RemoteAddr(), nil, fmt.Errorf("connection handler panic: %v", r))
			c.Close()
		}
	}()
	w.serve(ctx, c)
}
