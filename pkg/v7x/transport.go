// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport is the byte channel between driver and instrument. One
// implementation exists per attachment mechanism: the HID-UART bridge,
// a plain serial port, and a websocket bridge for remote benches.
//
// The read contract folds the success/timeout/fault trichotomy into the
// return values the serial library already uses: (n>0, nil) delivers
// data, (0, nil) is a benign timeout with nothing received, and a
// non-nil error is a hard fault. Close is idempotent.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout changes how long a single Read blocks. The driver
	// switches between a short polling timeout while scanning for a line
	// terminator and the longer default between operations, so this must
	// be callable repeatedly.
	SetReadTimeout(d time.Duration) error

	// Flush discards transmit and/or receive buffers.
	Flush(tx, rx bool) error
}

// ensureLogger returns a usable logger for optional logger parameters.
func ensureLogger(log logrus.FieldLogger) logrus.FieldLogger {
	if log != nil {
		return log
	}
	silent := logrus.New()
	silent.SetOutput(io.Discard)
	return silent
}
