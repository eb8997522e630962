// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

// Package config loads the tool configuration from an optional YAML
// file with DIELECTRIC_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Transport mechanism names accepted in configuration.
const (
	TransportHID    = "hid"
	TransportSerial = "serial"
	TransportWS     = "ws"
)

// Config is the full tool configuration. Every field has a workable
// default; a config file and environment variables only override.
type Config struct {
	// Transport picks the default attachment mechanism: hid, serial
	// or ws. Explicit CLI flags always win over this.
	Transport string `yaml:"transport"`
	// HIDIndex selects among multiple attached bridges.
	HIDIndex int `yaml:"hid_index"`
	// Port is the serial port device name.
	Port string `yaml:"port"`
	// Baud is the serial line rate.
	Baud int `yaml:"baud"`
	// WSURL is the websocket bridge address (ws:// or wss://).
	WSURL string `yaml:"ws_url"`
	// WSUsername authenticates against the websocket bridge. The
	// password is never stored; it comes from DIELECTRIC_PASSWORD or an
	// interactive prompt.
	WSUsername string `yaml:"ws_username"`
	// WSInsecure skips TLS certificate verification on wss:// bridges.
	WSInsecure bool `yaml:"ws_insecure"`

	// DatabaseDSN is the Postgres connection string for saved sequences
	// and results. Empty disables the store-backed commands.
	DatabaseDSN string `yaml:"database_dsn"`
	// SessionPath is where the working sequence is mirrored between
	// CLI invocations.
	SessionPath string `yaml:"session_path"`
	// LogLevel is a logrus level name (panic..trace).
	LogLevel string `yaml:"log_level"`
	// ServeAddr is the REST listen address for the serve command.
	ServeAddr string `yaml:"serve_addr"`
}

// Default returns the configuration used when no file and no overrides
// exist.
func Default() Config {
	return Config{
		Transport:   TransportHID,
		Baud:        115200,
		SessionPath: defaultSessionPath(),
		LogLevel:    "info",
		ServeAddr:   ":8091",
	}
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dielectric-session.cbor"
	}
	return filepath.Join(home, ".dielectric", "session.cbor")
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; defaults plus
// environment apply. An unreadable or malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers DIELECTRIC_* variables over the current values.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("DIELECTRIC_TRANSPORT", &c.Transport)
	setString("DIELECTRIC_PORT", &c.Port)
	setString("DIELECTRIC_URL", &c.WSURL)
	setString("DIELECTRIC_USERNAME", &c.WSUsername)
	setString("DIELECTRIC_DSN", &c.DatabaseDSN)
	setString("DIELECTRIC_SESSION", &c.SessionPath)
	setString("DIELECTRIC_LOG_LEVEL", &c.LogLevel)
	setString("DIELECTRIC_ADDR", &c.ServeAddr)

	if v, ok := os.LookupEnv("DIELECTRIC_BAUD"); ok {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DIELECTRIC_BAUD %q: %w", v, err)
		}
		c.Baud = baud
	}
	if v, ok := os.LookupEnv("DIELECTRIC_HID_INDEX"); ok {
		idx, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DIELECTRIC_HID_INDEX %q: %w", v, err)
		}
		c.HIDIndex = idx
	}
	return nil
}
