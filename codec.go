// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package piaf

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/http2"
)

// http1Codec serves a connection with net/http. The shared http.Server
// is fed exactly one connection through a one-shot listener; ServeConn
// returns when the connection is retired.
type http1Codec struct {
	hs *http.Server
}

func (c *http1Codec) ServeConn(ctx context.Context, conn net.Conn) {
	tc := trackedFrom(conn)
	c.hs.Serve(&oneShotListener{conn: conn})
	if tc != nil {
		// Serve returns as soon as the connection is handed to its
		// serving goroutine; the handler task lives until close.
		<-tc.closed
	}
}

// http2Codec serves a connection with the HTTP/2 state machine from
// golang.org/x/net/http2. ServeConn blocks until the connection is no
// longer readable, so no completion tracking is needed.
type http2Codec struct {
	h2   *http2.Server
	base *http.Server
}

func (c *http2Codec) ServeConn(ctx context.Context, conn net.Conn) {
	c.h2.ServeConn(conn, &http2.ServeConnOpts{
		Context:    ctx,
		BaseConfig: c.base,
	})
}

// oneShotListener yields a single connection and then reports closed,
// which makes http.Server.Serve run exactly one connection.
type oneShotListener struct {
	mu   sync.Mutex
	conn net.Conn
}

func (l *oneShotListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, net.ErrClosed
	}
	c := l.conn
	l.conn = nil
	return c, nil
}

func (l *oneShotListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = nil
	return nil
}

func (l *oneShotListener) Addr() net.Addr { return dummyAddr("piaf") }

type dummyAddr string

func (a dummyAddr) Network() string { return string(a) }
func (a dummyAddr) String() string  { return string(a) }

// trackedConn carries the per-connection context into net/http's
// ConnContext hook and signals when the connection is closed, whoever
// closes it (the HTTP/1.1 server, the HTTP/2 state machine after an
// upgrade, or the TLS layer above it).
type trackedConn struct {
	net.Conn
	ctx    context.Context
	closed chan struct{}
	once   sync.Once
}

func newTrackedConn(ctx context.Context, c net.Conn) *trackedConn {
	return &trackedConn{Conn: c, ctx: ctx, closed: make(chan struct{})}
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { close(c.closed) })
	return err
}

// trackedFrom unwraps the trackedConn layer from a connection, looking
// through tls.Conn when the dispatcher handshook first.
func trackedFrom(c net.Conn) *trackedConn {
	if tc, ok := c.(*tls.Conn); ok {
		c = tc.NetConn()
	}
	tc, _ := c.(*trackedConn)
	return tc
}

// connContext is installed as the shared http.Server's ConnContext hook;
// it grafts the dispatcher's per-connection state onto the context
// net/http built, keeping the values net/http attached itself.
func connContext(ctx context.Context, c net.Conn) context.Context {
	if tc := trackedFrom(c); tc != nil && tc.ctx != nil {
		if cs, ok := tc.ctx.Value(connCtxKey{}).(*connState); ok {
			return context.WithValue(ctx, connCtxKey{}, cs)
		}
	}
	return ctx
}
