// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package piaf implements the connection-acceptance and
// protocol-negotiation core of an HTTP server.
//
// A Server accepts connections over cleartext and TLS, decides per
// connection which protocol speaks on it (HTTP/1.1, HTTP/2 negotiated
// through TLS ALPN, or HTTP/2 reached from a cleartext HTTP/1.1 upgrade,
// "h2c"), and hands the byte stream to the matching codec. The wire
// codecs themselves are external: HTTP/1.1 framing is net/http, HTTP/2
// framing is golang.org/x/net/http2.
//
// Construction does no I/O. NewServer validates the configuration,
// Server.Start binds the listening sockets and runs the configured number
// of accept loops per socket, and the returned Command shuts everything
// down:
//
//	srv, err := piaf.NewServer(piaf.Config{
//		Addr:    ":8080",
//		Handler: handler,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	cmd, err := srv.Start(context.Background())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cmd.Shutdown()
package piaf

import (
	"context"
	"net"
	"net/http"

	"github.com/allancalix/piaf/scheme"
)

// An ErrorHandler is notified of connection-level failures: TLS
// handshakes that do not complete, and panics escaping a per-connection
// handler. req is the in-flight request when one is known, nil otherwise.
// The failure is already contained when the handler runs; it is
// informational only.
type ErrorHandler func(remote net.Addr, req *http.Request, err error)

// A Codec serves one accepted connection once a protocol has been
// selected for it. Implementations exist for HTTP/1.1 and HTTP/2; the
// dispatcher picks a Codec value per connection, it never switches on
// concrete types.
type Codec interface {
	// ServeConn owns c until it returns. ctx carries the per-connection
	// state (remote address, resolved scheme).
	ServeConn(ctx context.Context, c net.Conn)
}

type connCtxKey struct{}

// connState is the per-connection context: created on accept, dropped
// when the connection's handler returns.
type connState struct {
	scheme scheme.Scheme
	remote net.Addr
}

func withConnState(ctx context.Context, s scheme.Scheme, remote net.Addr) context.Context {
	return context.WithValue(ctx, connCtxKey{}, &connState{scheme: s, remote: remote})
}

// ConnScheme reports the resolved scheme of the connection that carried
// the request whose context is ctx. Contexts without an attached
// connection report HTTP.
func ConnScheme(ctx context.Context) scheme.Scheme {
	if cs, ok := ctx.Value(connCtxKey{}).(*connState); ok {
		return cs.scheme
	}
	return scheme.HTTP
}

// ConnRemoteAddr reports the remote address of the connection attached to
// ctx, or nil.
func ConnRemoteAddr(ctx context.Context) net.Addr {
	if cs, ok := ctx.Value(connCtxKey{}).(*connState); ok {
		return cs.remote
	}
	return nil
}
