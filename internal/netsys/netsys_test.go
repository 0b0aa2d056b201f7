// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package netsys

import (
	"context"
	"io"
	"net"
	"testing"
)

func TestListenAndDial(t *testing.T) {
	ln, err := Listen(context.Background(), "tcp", "127.0.0.1:0", 16)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	const msg = "hello\n"
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		io.WriteString(c, msg)
		c.Close()
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != msg {
		t.Errorf("read %q, want %q", got, msg)
	}
}

func TestListenSharedPort(t *testing.T) {
	// SO_REUSEPORT lets a second socket bind the same address while the
	// first is still listening.
	ln1, err := Listen(context.Background(), "tcp", "127.0.0.1:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ln1.Close()

	ln2, err := Listen(context.Background(), "tcp", ln1.Addr().String(), 0)
	if err != nil {
		t.Fatalf("second Listen on %v: %v", ln1.Addr(), err)
	}
	ln2.Close()
}

func TestListenDefaultBacklog(t *testing.T) {
	ln, err := Listen(context.Background(), "tcp", "127.0.0.1:0", -1)
	if err != nil {
		t.Fatal(err)
	}
	ln.Close()
}
