// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package piaf

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/net/http2"

	"github.com/allancalix/piaf/scheme"
)

// A Server accepts connections and routes each one to a protocol codec.
// Construct with NewServer; a Server does no I/O until Start.
type Server struct {
	cfg  Config
	log  *slog.Logger
	errh ErrorHandler

	// h1 is the shared net/http server used for every HTTP/1.1
	// connection, cleartext or TLS. Its handler is the application
	// handler wrapped with h2c upgrade detection.
	h1 *http.Server
	h2 *http2.Server

	h1codec Codec
	h2codec Codec

	tlsConfig *tls.Config
}

// NewServer validates cfg and builds a Server. It opens no sockets.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg: cfg,
		log: cfg.Logger,
		h2:  new(http2.Server),
	}
	s.errh = cfg.ErrorHandler
	if s.errh == nil {
		s.errh = s.logConnError
	}

	s.h1 = &http.Server{
		Handler:     &upgradeHandler{srv: s, next: cfg.Handler},
		ErrorLog:    slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelError),
		ConnContext: connContext,
	}
	s.h1codec = &http1Codec{hs: s.h1}
	s.h2codec = &http2Codec{h2: s.h2, base: s.h1}

	if cfg.TLS != nil {
		tc, err := buildTLSConfig(cfg.TLS, cfg.MaxVersion)
		if err != nil {
			return nil, err
		}
		s.tlsConfig = tc
	}
	return s, nil
}

// Start binds the cleartext listening socket, and the TLS one if
// configured, and starts cfg.Workers accept loops per socket. It does
// not return until every accept loop is running, so a caller never
// observes a partially started server. The returned Command owns all
// sockets and release actions.
func (s *Server) Start(ctx context.Context) (*Command, error) {
	cmd := &Command{log: s.log}

	plain, err := s.listenPool(ctx, s.cfg.Addr, s.servePlain)
	if err != nil {
		return nil, fmt.Errorf("piaf: listen %q: %w", s.cfg.Addr, err)
	}
	cmd.addr = plain.ln.Addr()
	cmd.listeners = append(cmd.listeners, plain.ln)
	cmd.releases = append(cmd.releases, plain.releases...)

	if s.tlsConfig != nil {
		tlsPool, err := s.listenPool(ctx, s.cfg.TLS.Addr, s.serveTLS)
		if err != nil {
			cmd.Shutdown()
			return nil, fmt.Errorf("piaf: listen %q: %w", s.cfg.TLS.Addr, err)
		}
		cmd.tlsAddr = tlsPool.ln.Addr()
		cmd.listeners = append(cmd.listeners, tlsPool.ln)
		cmd.releases = append(cmd.releases, tlsPool.releases...)
	}

	if cmd.tlsAddr != nil {
		s.log.Info("server started", "addr", cmd.addr.String(), "tls_addr", cmd.tlsAddr.String(), "workers", s.cfg.Workers)
	} else {
		s.log.Info("server started", "addr", cmd.addr.String(), "workers", s.cfg.Workers)
	}
	return cmd, nil
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down and returns.
func (s *Server) Run(ctx context.Context) error {
	cmd, err := s.Start(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	cmd.Shutdown()
	return nil
}

// servePlain handles one accepted cleartext connection. HTTP/1.1 framing
// always speaks first; the wrapped handler may switch the stream to
// HTTP/2 through the h2c upgrade.
func (s *Server) servePlain(ctx context.Context, c net.Conn) {
	// Shutdown must not abort connections already being handled, so the
	// per-connection context keeps the values of ctx but not its
	// cancellation.
	ctx = withConnState(context.WithoutCancel(ctx), scheme.HTTP, c.RemoteAddr())
	s.h1codec.ServeConn(ctx, newTrackedConn(ctx, c))
}

// serveTLS runs the handshake on one accepted connection, bounded by
// AcceptTimeout, and selects a codec from the ALPN result. A failed
// handshake drops the connection; the accept loop is unaffected.
func (s *Server) serveTLS(ctx context.Context, c net.Conn) {
	ctx = withConnState(context.WithoutCancel(ctx), scheme.HTTPS, c.RemoteAddr())
	tlsConn := tls.Server(newTrackedConn(ctx, c), s.tlsConfig)

	hsCtx := ctx
	if d := s.cfg.AcceptTimeout; d > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		s.errh(c.RemoteAddr(), nil, fmt.Errorf("TLS handshake: %w", err))
		tlsConn.Close()
		return
	}

	proto := tlsConn.ConnectionState().NegotiatedProtocol
	s.selectCodec(proto).ServeConn(ctx, tlsConn)
}

// selectCodec maps an ALPN result to a codec. The negotiated protocol is
// honored even if it names a version above MaxVersion: the cap is
// enforced through the advertised protocol list, and a handshake that
// nonetheless settled on "h2" is served as HTTP/2 rather than broken
// after the fact.
func (s *Server) selectCodec(alpn string) Codec {
	switch alpn {
	case http2.NextProtoTLS:
		return s.h2codec
	default:
		// "", "http/1.0" and "http/1.1" all use HTTP/1.1 framing.
		return s.h1codec
	}
}

func (s *Server) logConnError(remote net.Addr, req *http.Request, err error) {
	if remote != nil {
		s.log.Error("connection error", "remote", remote.String(), "error", err)
	} else {
		s.log.Error("connection error", "error", err)
	}
}
