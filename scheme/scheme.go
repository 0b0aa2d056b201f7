// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scheme classifies connections and request targets as cleartext
// or TLS. A Scheme is a pure value: it carries no state and resolving one
// has no side effects.
package scheme

import (
	"fmt"
	"net/url"
)

// A Scheme is the cleartext/encrypted classification of a connection,
// derived from a URI scheme or a well-known port.
type Scheme int

const (
	// HTTP is a cleartext connection.
	HTTP Scheme = iota
	// HTTPS is a TLS connection.
	HTTPS
)

// UnsupportedError is returned by Parse for schemes other than
// "http" and "https". It is recoverable; the caller decides whether
// an unsupported scheme is fatal.
type UnsupportedError struct {
	Scheme string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("scheme: unsupported scheme %q", e.Scheme)
}

// Parse resolves a URI scheme string. The empty string and "http" resolve
// to HTTP, "https" to HTTPS. Anything else yields an *UnsupportedError.
func Parse(s string) (Scheme, error) {
	switch s {
	case "", "http":
		return HTTP, nil
	case "https":
		return HTTPS, nil
	}
	return HTTP, &UnsupportedError{Scheme: s}
}

// FromURL resolves the scheme of u. A URL with no scheme resolves to HTTP.
func FromURL(u *url.URL) (Scheme, error) {
	return Parse(u.Scheme)
}

// FromPort maps a well-known port to its scheme. Ports other than 80 and
// 443 report ok == false; an unknown port is not an error.
func FromPort(port int) (s Scheme, ok bool) {
	switch port {
	case 80:
		return HTTP, true
	case 443:
		return HTTPS, true
	}
	return 0, false
}

// Port returns the well-known port for s: 80 for HTTP, 443 for HTTPS.
func (s Scheme) Port() int {
	if s == HTTPS {
		return 443
	}
	return 80
}

// String returns "http" or "https". It is the exact inverse of Parse on
// the supported scheme strings.
func (s Scheme) String() string {
	if s == HTTPS {
		return "https"
	}
	return "http"
}
