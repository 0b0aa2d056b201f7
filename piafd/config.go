// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/allancalix/piaf"
)

// fileConfig is the YAML mirror of piaf.Config plus logging knobs.
type fileConfig struct {
	Addr          string `yaml:"addr"`
	Backlog       int    `yaml:"backlog"`
	Workers       int    `yaml:"workers"`
	MaxVersion    string `yaml:"max_version"`
	H2CUpgrade    bool   `yaml:"h2c_upgrade"`
	AcceptTimeout string `yaml:"accept_timeout"`

	TLS *struct {
		Addr             string   `yaml:"addr"`
		CertFile         string   `yaml:"cert_file"`
		KeyFile          string   `yaml:"key_file"`
		AutocertHosts    []string `yaml:"autocert_hosts"`
		AutocertCacheDir string   `yaml:"autocert_cache_dir"`
	} `yaml:"tls"`

	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // text, json; default picked by terminal detection
	} `yaml:"log"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc := new(fileConfig)
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fc, nil
}

// serverConfig translates the file form into a piaf.Config. Handler and
// Logger are filled in by the caller.
func (fc *fileConfig) serverConfig() (piaf.Config, error) {
	cfg := piaf.Config{
		Addr:       fc.Addr,
		Backlog:    fc.Backlog,
		Workers:    fc.Workers,
		H2CUpgrade: fc.H2CUpgrade,
	}
	if fc.MaxVersion != "" {
		v, err := parseVersion(fc.MaxVersion)
		if err != nil {
			return piaf.Config{}, err
		}
		cfg.MaxVersion = v
	}
	if fc.AcceptTimeout != "" {
		d, err := time.ParseDuration(fc.AcceptTimeout)
		if err != nil {
			return piaf.Config{}, fmt.Errorf("accept_timeout: %w", err)
		}
		cfg.AcceptTimeout = d
	}
	if fc.TLS != nil {
		cfg.TLS = &piaf.TLSConfig{
			Addr:             fc.TLS.Addr,
			CertFile:         fc.TLS.CertFile,
			KeyFile:          fc.TLS.KeyFile,
			AutocertHosts:    fc.TLS.AutocertHosts,
			AutocertCacheDir: fc.TLS.AutocertCacheDir,
		}
	}
	return cfg, nil
}

func parseVersion(s string) (piaf.Version, error) {
	switch s {
	case "1.0":
		return piaf.V1_0, nil
	case "1.1":
		return piaf.V1_1, nil
	case "2", "2.0":
		return piaf.V2, nil
	}
	return piaf.Version{}, fmt.Errorf("unknown HTTP version %q", s)
}
