// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Benchsafe/dielectric/pkg/config"
)

var (
	// Connection flags
	hidIndex      int
	portName      string
	baudRate      int
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Tool flags
	configPath  string
	logLevel    string
	sessionFile string

	// cfg is the effective configuration after file, environment and
	// flag merging. Populated by the persistent pre-run hook.
	cfg config.Config

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "dielectric",
	Short: "Vitrek V7X safety tester control",
	Long: `Dielectric - CLI for the Vitrek V7X electrical safety tester.

Programs and executes hipot (ACW/DCW), insulation resistance, continuity
and ground bond test sequences, collects per-step results, and can store
sequences and results in PostgreSQL.

Connection modes:
  HID (default): --hid 0            USB HID-to-UART bridge
  Serial:        --port /dev/ttyUSB0 [--baud 115200]
  WebSocket:     --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the
DIELECTRIC_PASSWORD environment variable, or prompted interactively if
not set. The --password flag is intentionally not provided to avoid
leaking credentials in shell history.

Configuration is read from --config (YAML), then DIELECTRIC_* environment
variables, then explicit flags, later sources winning.`,
	Version:           "1.0.0",
	PersistentPreRunE: setupFromFlags,
}

func init() {
	// Connection flags
	rootCmd.PersistentFlags().IntVar(&hidIndex, "hid", 0, "HID bridge index when several testers are attached")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Tool flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (panic..trace)")
	rootCmd.PersistentFlags().StringVar(&sessionFile, "session", "", "Working sequence session file")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dielectric", "config.yaml")
}

// setupFromFlags loads the configuration and layers explicit flags on
// top. An explicit connection flag also picks its transport, so
// "--port /dev/ttyUSB0" alone switches a hid-configured setup to serial.
func setupFromFlags(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("hid") {
		cfg.Transport = config.TransportHID
		cfg.HIDIndex = hidIndex
	}
	if portName != "" {
		cfg.Transport = config.TransportSerial
		cfg.Port = portName
	}
	if wsURL != "" {
		cfg.Transport = config.TransportWS
		cfg.WSURL = wsURL
	}
	if wsUsername != "" {
		cfg.WSUsername = wsUsername
	}
	if wsNoSSLVerify {
		cfg.WSInsecure = true
	}
	if cmd.Flags().Changed("baud") {
		cfg.Baud = baudRate
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if sessionFile != "" {
		cfg.SessionPath = sessionFile
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
