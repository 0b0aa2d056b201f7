// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package piaf

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// Config configures a Server. It is copied by NewServer and never
// consulted for mutation afterwards; a Config is immutable for the
// server's whole lifetime.
type Config struct {
	// Addr is the cleartext bind address. Defaults to ":http".
	Addr string

	// Backlog is the accept backlog requested for each listening
	// socket. Non-positive means the netsys default.
	Backlog int

	// Workers is the number of accept loops run per listening socket.
	// Each loop accepts independently; the socket is opened with
	// SO_REUSEPORT so the loops do not serialize on one accept queue.
	// Defaults to 1.
	Workers int

	// MaxVersion caps protocol negotiation. It controls the advertised
	// ALPN protocol list and is a precondition of the h2c upgrade.
	// Defaults to HTTP/2.
	//
	// Note the cap is advisory on the TLS path: if the handshake still
	// negotiates "h2", the ALPN result is honored. See Server.
	MaxVersion Version

	// H2CUpgrade enables the cleartext HTTP/1.1 -> HTTP/2 upgrade.
	H2CUpgrade bool

	// AcceptTimeout bounds the TLS handshake on freshly accepted
	// connections. Zero means no bound.
	AcceptTimeout time.Duration

	// TLS, when non-nil, makes the server bind a second, encrypted
	// listener.
	TLS *TLSConfig

	// Handler is the application handler. Required.
	Handler http.Handler

	// ErrorHandler is notified of contained connection-level failures.
	// Nil means log-only.
	ErrorHandler ErrorHandler

	// Logger is the structured logger for lifecycle and per-connection
	// events. Nil means slog.Default.
	Logger *slog.Logger
}

// TLSConfig is the TLS block of a Config: its own bind address plus
// certificate material. Exactly one of Certificates, CertFile/KeyFile, or
// AutocertHosts must be set unless Config carries certificates already.
type TLSConfig struct {
	// Addr is the encrypted bind address. Defaults to ":https".
	Addr string

	// CertFile and KeyFile name a PEM certificate/key pair on disk.
	CertFile, KeyFile string

	// Certificates is in-memory certificate material.
	Certificates []tls.Certificate

	// Config is an optional base tls.Config; it is cloned, and its
	// NextProtos are overwritten to match MaxVersion.
	Config *tls.Config

	// AutocertHosts enables Let's Encrypt certificates for the named
	// hosts instead of static material.
	AutocertHosts []string

	// AutocertCacheDir is the certificate cache directory used with
	// AutocertHosts. Empty disables caching.
	AutocertCacheDir string
}

func (cfg Config) withDefaults() Config {
	if cfg.Addr == "" {
		cfg.Addr = ":http"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if (cfg.MaxVersion == Version{}) {
		cfg.MaxVersion = V2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TLS != nil && cfg.TLS.Addr == "" {
		tc := *cfg.TLS
		tc.Addr = ":https"
		cfg.TLS = &tc
	}
	return cfg
}

func (cfg *Config) validate() error {
	if cfg.Handler == nil {
		return errors.New("piaf: Config.Handler must not be nil")
	}
	if cfg.MaxVersion.Compare(V1_0) < 0 {
		return fmt.Errorf("piaf: unusable MaxVersion %v", cfg.MaxVersion)
	}
	if t := cfg.TLS; t != nil {
		if (t.CertFile == "") != (t.KeyFile == "") {
			return errors.New("piaf: TLS CertFile and KeyFile must be set together")
		}
		hasMaterial := t.CertFile != "" || len(t.Certificates) > 0 ||
			len(t.AutocertHosts) > 0 ||
			(t.Config != nil && (len(t.Config.Certificates) > 0 || t.Config.GetCertificate != nil))
		if !hasMaterial {
			return errors.New("piaf: TLS configured without certificate material")
		}
	}
	return nil
}

// alpnProtos is the ALPN protocol list advertised during the TLS
// handshake, derived from the configured maximum version.
func alpnProtos(maxVersion Version) []string {
	if maxVersion.Compare(V2) >= 0 {
		return []string{"h2", "http/1.1"}
	}
	return []string{"http/1.1"}
}

// buildTLSConfig turns the TLS block into the tls.Config handed to
// tls.Server for every accepted encrypted connection.
func buildTLSConfig(t *TLSConfig, maxVersion Version) (*tls.Config, error) {
	var cfg *tls.Config
	if t.Config != nil {
		cfg = t.Config.Clone()
	} else {
		cfg = new(tls.Config)
	}

	switch {
	case len(t.AutocertHosts) > 0:
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(t.AutocertHosts...),
		}
		if t.AutocertCacheDir != "" {
			m.Cache = autocert.DirCache(t.AutocertCacheDir)
		}
		cfg.GetCertificate = m.GetCertificate
		cfg.NextProtos = append(alpnProtos(maxVersion), acme.ALPNProto)
		return cfg, nil
	case t.CertFile != "":
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("piaf: loading TLS key pair: %w", err)
		}
		cfg.Certificates = append(cfg.Certificates, cert)
	case len(t.Certificates) > 0:
		cfg.Certificates = append(cfg.Certificates, t.Certificates...)
	}

	cfg.NextProtos = alpnProtos(maxVersion)
	return cfg, nil
}
