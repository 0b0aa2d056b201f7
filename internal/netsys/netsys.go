// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package netsys opens listening sockets with SO_REUSEADDR and
// SO_REUSEPORT set, so several accept loops (or several processes) can
// share one address without serializing on a single accept queue.
//
// On Linux the socket is created directly through golang.org/x/sys/unix
// so the configured accept backlog is applied verbatim; elsewhere the
// backlog is whatever the platform default is.
package netsys

import (
	"context"
	"net"
)

// DefaultBacklog is used when Listen is called with a non-positive backlog.
const DefaultBacklog = 128

// Listen binds a TCP listening socket on address with the given accept
// backlog. network must be "tcp", "tcp4" or "tcp6".
func Listen(ctx context.Context, network, address string, backlog int) (net.Listener, error) {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return listen(ctx, network, address, backlog)
}
