// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package piaf

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"testing"
	"time"
)

type twriter struct {
	t *testing.T
}

func (w twriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(twriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// startTestServer starts a server on an ephemeral port and arranges its
// shutdown. Zero-value config fields get test-friendly defaults.
func startTestServer(t *testing.T, cfg Config) *Command {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.TLS != nil && cfg.TLS.Addr == "" {
		cfg.TLS.Addr = "127.0.0.1:0"
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger(t)
	}
	if cfg.Handler == nil {
		cfg.Handler = http.NotFoundHandler()
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := srv.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cmd.Shutdown)
	return cmd
}

// testCert builds a throwaway self-signed certificate for 127.0.0.1.
func testCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func protoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Proto)
	})
}

// TestALPNSelection serves one TLS listener to two clients: one that
// offers h2 and one that only speaks HTTP/1.1. Each must be served by
// the codec its handshake selected.
func TestALPNSelection(t *testing.T) {
	cmd := startTestServer(t, Config{
		Handler: protoHandler(),
		TLS: &TLSConfig{
			Certificates: []tls.Certificate{testCert(t)},
		},
	})
	if cmd.TLSAddr() == nil {
		t.Fatal("no TLS listener bound")
	}
	url := "https://" + cmd.TLSAddr().String() + "/"

	// HTTP/1.1-only client: http.Transport with a custom TLS config
	// advertises no h2.
	h1Client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	checkProto(t, h1Client, url, "HTTP/1.1")

	// h2 client.
	h2Client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			ForceAttemptHTTP2: true,
		},
	}
	checkProto(t, h2Client, url, "HTTP/2.0")
}

func checkProto(t *testing.T, client *http.Client, url, want string) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != want {
		t.Errorf("handler saw proto %q, want %q", b, want)
	}
	if resp.Proto != want {
		t.Errorf("client saw proto %q, want %q", resp.Proto, want)
	}
}

// TestALPNRespectsMaxVersion checks the advertised protocol list: a
// server capped at HTTP/1.1 never offers h2, so even an h2-capable
// client ends up on HTTP/1.1.
func TestALPNRespectsMaxVersion(t *testing.T) {
	cmd := startTestServer(t, Config{
		MaxVersion: V1_1,
		Handler:    protoHandler(),
		TLS: &TLSConfig{
			Certificates: []tls.Certificate{testCert(t)},
		},
	})

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			ForceAttemptHTTP2: true,
		},
	}
	checkProto(t, client, "https://"+cmd.TLSAddr().String()+"/", "HTTP/1.1")
}

// TestTLSHandshakeFailureIsContained feeds the TLS listener garbage and
// then checks it still serves a well-behaved client.
func TestTLSHandshakeFailureIsContained(t *testing.T) {
	cmd := startTestServer(t, Config{
		AcceptTimeout: 2 * time.Second,
		Handler:       protoHandler(),
		TLS: &TLSConfig{
			Certificates: []tls.Certificate{testCert(t)},
		},
	})

	c, err := net.Dial("tcp", cmd.TLSAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(c, "this is not a ClientHello\r\n\r\n")
	c.Close()

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	checkProto(t, client, "https://"+cmd.TLSAddr().String()+"/", "HTTP/1.1")
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Error("NewServer without a handler should fail")
	}
	if _, err := NewServer(Config{
		Handler: http.NotFoundHandler(),
		TLS:     &TLSConfig{},
	}); err == nil {
		t.Error("NewServer with an empty TLS block should fail")
	}
	if _, err := NewServer(Config{
		Handler: http.NotFoundHandler(),
		TLS:     &TLSConfig{CertFile: "cert.pem"},
	}); err == nil {
		t.Error("NewServer with CertFile but no KeyFile should fail")
	}
}

func TestStartPropagatesBindFailure(t *testing.T) {
	srv, err := NewServer(Config{
		Addr:    "203.0.113.1:1", // TEST-NET, not assigned to any local interface
		Handler: http.NotFoundHandler(),
		Logger:  testLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if cmd, err := srv.Start(context.Background()); err == nil {
		cmd.Shutdown()
		t.Fatal("Start on an unbindable address should fail")
	}
}
