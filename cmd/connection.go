// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Benchsafe/dielectric/pkg/config"
	"github.com/Benchsafe/dielectric/pkg/v7x"
)

// buildDialer maps the effective configuration to a transport dialer.
// The dialer captures everything it needs, so reconnection later uses
// the same parameters (including a once-prompted password).
func buildDialer() (v7x.Dialer, error) {
	switch cfg.Transport {
	case config.TransportWS:
		if cfg.WSURL == "" {
			return nil, fmt.Errorf("websocket transport selected but no --url given")
		}
		password := ""
		if cfg.WSUsername != "" {
			var err error
			password, err = getPassword()
			if err != nil {
				return nil, err
			}
		}
		rawURL, username, insecure := cfg.WSURL, cfg.WSUsername, cfg.WSInsecure
		return func() (v7x.Transport, error) {
			return v7x.OpenWebSocket(rawURL, username, password, insecure, log)
		}, nil

	case config.TransportSerial:
		if cfg.Port == "" {
			return nil, fmt.Errorf("serial transport selected but no --port given")
		}
		port, baud := cfg.Port, cfg.Baud
		return func() (v7x.Transport, error) {
			return v7x.OpenSerial(port, baud, log)
		}, nil

	case config.TransportHID:
		index := cfg.HIDIndex
		return func() (v7x.Transport, error) {
			return v7x.OpenHID(index, log)
		}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q (use hid, serial or ws)", cfg.Transport)
	}
}

// openDevice attaches to the tester over the configured transport and
// walks it to ready.
func openDevice() (*v7x.Device, error) {
	dial, err := buildDialer()
	if err != nil {
		return nil, err
	}
	dev := v7x.NewDevice(dial, log)
	if err := dev.Open(); err != nil {
		return nil, err
	}
	return dev, nil
}

// connInfo describes the configured attachment for command banners.
func connInfo() string {
	switch cfg.Transport {
	case config.TransportWS:
		return fmt.Sprintf("WebSocket: %s", cfg.WSURL)
	case config.TransportSerial:
		return fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, cfg.Baud)
	default:
		return fmt.Sprintf("HID bridge #%d", cfg.HIDIndex)
	}
}

// getPassword retrieves the websocket password from environment or prompts user
func getPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("DIELECTRIC_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}
