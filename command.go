// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package piaf

import (
	"errors"
	"log/slog"
	"net"
)

// A Command is the handle returned by Server.Start. It owns every
// listening socket the server bound and one release action per accept
// loop; no other component closes those sockets or resolves those
// release actions.
type Command struct {
	log       *slog.Logger
	addr      net.Addr
	tlsAddr   net.Addr
	listeners []net.Listener
	releases  []func()
}

// Addr returns the bound cleartext address. Useful when the
// configuration asked for port 0.
func (c *Command) Addr() net.Addr { return c.addr }

// TLSAddr returns the bound TLS address, or nil when TLS is not
// configured.
func (c *Command) TLSAddr() net.Addr { return c.tlsAddr }

// Shutdown stops the server: every accept loop is released first, and
// only then is every listening socket closed, so a loop observes its
// cancellation before the socket disappears under a pending accept.
// In-flight connection handlers are not interrupted.
//
// Calling Shutdown a second time is a no-op: the release actions are
// idempotent and a second close of a listener reports net.ErrClosed,
// which is ignored.
func (c *Command) Shutdown() {
	c.log.Info("server shutting down")
	for _, release := range c.releases {
		release()
	}
	for _, ln := range c.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			// Best effort; there is no way to retry a close.
			c.log.Warn("closing listener", "addr", ln.Addr().String(), "error", err)
		}
	}
	c.log.Info("server shutdown complete")
}
