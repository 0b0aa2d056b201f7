// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package netsys

import (
	"context"
	"net"
)

func listen(ctx context.Context, network, address string, backlog int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, network, address)
}
