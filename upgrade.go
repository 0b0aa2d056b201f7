// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package piaf

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"net"
	"net/http"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/http2"

	"github.com/allancalix/piaf/scheme"
)

// upgradeHandler wraps the application handler for HTTP/1.1 traffic. On
// every request it first asks whether the request is an h2c upgrade (or
// cleartext HTTP/2 with prior knowledge); if so it switches the stream
// to the HTTP/2 state machine in place, otherwise the request proceeds
// to the application handler unchanged. Ineligibility is the normal
// HTTP/1.1 path, never an error.
type upgradeHandler struct {
	srv  *Server
	next http.Handler
}

func (h *upgradeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.priorKnowledgeEligible(r) {
		h.servePriorKnowledge(w, r)
		return
	}
	if !h.upgradeEligible(r) {
		h.next.ServeHTTP(w, r)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		// Nothing to upgrade on; keep speaking HTTP/1.1.
		h.next.ServeHTTP(w, r)
		return
	}
	settings := h2Settings(r.Header)

	// Drain the body through HTTP/1.1 framing before taking over the raw
	// stream. After the hijack the body bytes would otherwise sit in the
	// connection's read buffer and be misread as HTTP/2 preface bytes.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.srv.log.Debug("h2c upgrade aborted", "remote", r.RemoteAddr, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	conn, err := h.hijackAndAccept(hj)
	if err != nil {
		h.srv.log.Debug("h2c upgrade aborted", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	// The already-parsed request, body included, is replayed as the seed
	// request of the new HTTP/2 connection on stream 1.
	h.srv.h2.ServeConn(conn, &http2.ServeConnOpts{
		Context:        r.Context(),
		BaseConfig:     h.srv.h1,
		Handler:        h.next,
		UpgradeRequest: r,
		Settings:       settings,
	})
}

// upgradeEligible reports whether r may switch the connection to h2c.
// All conditions must hold; a TLS connection never upgrades this way (it
// negotiates through ALPN instead).
func (h *upgradeHandler) upgradeEligible(r *http.Request) bool {
	cfg := &h.srv.cfg
	if !cfg.H2CUpgrade {
		return false
	}
	if cfg.MaxVersion != V2 {
		return false
	}
	if r.ProtoMajor != 1 || r.ProtoMinor != 1 {
		return false
	}
	if ConnScheme(r.Context()) != scheme.HTTP {
		return false
	}
	if !httpguts.HeaderValuesContainsToken(r.Header["Connection"], "Upgrade") {
		return false
	}
	return r.Header.Get("Upgrade") == "h2c"
}

// hijackAndAccept takes over the underlying byte stream and acknowledges
// the upgrade over it, in HTTP/1.1 framing, before any HTTP/2 frame is
// exchanged. It returns the stream, with anything the client pipelined
// after the request still readable.
func (h *upgradeHandler) hijackAndAccept(hj http.Hijacker) (net.Conn, error) {
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}
	const accept = "HTTP/1.1 101 Switching Protocols\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: h2c\r\n\r\n"
	if _, err := rw.WriteString(accept); err != nil {
		conn.Close()
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		conn.Close()
		return nil, err
	}
	return newBufConn(conn, rw.Reader), nil
}

// h2Settings decodes the HTTP2-Settings header, a base64url SETTINGS
// frame payload. The header is optional; a missing or undecodable value
// yields nil and the connection starts from default settings.
func h2Settings(header http.Header) []byte {
	vals := header["Http2-Settings"]
	if len(vals) != 1 {
		return nil
	}
	settings, err := base64.RawURLEncoding.DecodeString(vals[0])
	if err != nil {
		return nil
	}
	return settings
}

// priorKnowledgeEligible reports whether r is the start of a cleartext
// HTTP/2 connection from a client with prior knowledge: the connection
// preface parses as the HTTP/1.1-shaped request "PRI * HTTP/2.0".
func (h *upgradeHandler) priorKnowledgeEligible(r *http.Request) bool {
	if h.srv.cfg.MaxVersion.Compare(V2) < 0 {
		return false
	}
	if ConnScheme(r.Context()) != scheme.HTTP {
		return false
	}
	return r.Method == "PRI" && len(r.Header) == 0 && r.URL.Path == "*" && r.Proto == "HTTP/2.0"
}

// servePriorKnowledge consumes the rest of the client preface and hands
// the stream to the HTTP/2 state machine.
func (h *upgradeHandler) servePriorKnowledge(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		h.srv.log.Debug("hijack failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	// net/http consumed "PRI * HTTP/2.0\r\n\r\n"; the rest of the
	// preface must follow before any frame.
	const remainder = "SM\r\n\r\n"
	buf := make([]byte, len(remainder))
	if _, err := io.ReadFull(rw.Reader, buf); err != nil || string(buf) != remainder {
		h.srv.log.Debug("malformed HTTP/2 client preface", "remote", r.RemoteAddr)
		return
	}

	h.srv.h2.ServeConn(newBufConn(conn, rw.Reader), &http2.ServeConnOpts{
		Context:          r.Context(),
		BaseConfig:       h.srv.h1,
		Handler:          h.next,
		SawClientPreface: true,
	})
}

// bufConn drains the bytes the HTTP/1.1 reader buffered past the request
// before reading from the connection again, so nothing the client sent
// is lost across the protocol switch.
type bufConn struct {
	net.Conn
	r *bufio.Reader
}

func newBufConn(c net.Conn, r *bufio.Reader) net.Conn {
	if r.Buffered() == 0 {
		return c
	}
	return &bufConn{Conn: c, r: r}
}

func (c *bufConn) Read(p []byte) (int, error) {
	if c.r == nil {
		return c.Conn.Read(p)
	}
	n := c.r.Buffered()
	if n == 0 {
		c.r = nil
		return c.Conn.Read(p)
	}
	if n < len(p) {
		p = p[:n]
	}
	return c.r.Read(p)
}
