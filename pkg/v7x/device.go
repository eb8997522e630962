// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DeviceState tracks the driver lifecycle.
type DeviceState int

// Driver lifecycle states. Open walks Closed through Ready; any failure
// along the way rolls back to Closed.
const (
	StateClosed DeviceState = iota
	StateOpen
	StateConfigured
	StateReady
)

func (s DeviceState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateConfigured:
		return "configured"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Dialer opens the byte transport a Device drives. Injecting it keeps
// the attachment mechanism (HID bridge, serial port, websocket bridge)
// out of the driver and lets a closed device be reopened.
type Dialer func() (Transport, error)

// Device turns a byte transport into the instrument's command/response
// text protocol: CR-terminated ASCII commands out, LF-terminated
// responses in, with the polling and settle timing the instrument needs.
//
// A Device owns at most one live transport. It is not safe for
// concurrent use; the transport cannot interleave reads, so callers
// serialize all access (one goroutine owns the device during a run).
type Device struct {
	dial  Dialer
	t     Transport
	state DeviceState
	log   logrus.FieldLogger
}

// NewDevice builds a driver over the given dialer. The logger may be nil.
func NewDevice(dial Dialer, log logrus.FieldLogger) *Device {
	return &Device{dial: dial, log: ensureLogger(log)}
}

// State reports the current lifecycle state.
func (d *Device) State() DeviceState { return d.state }

// Ready reports whether the device can accept commands.
func (d *Device) Ready() bool { return d.state == StateReady }

// Open dials the transport and prepares it: link configuration is done
// by the transport constructor, then operation timeouts are applied and
// stale buffers flushed. Any failure closes the transport and returns
// the device to Closed. Opening an already-open device is a no-op.
func (d *Device) Open() error {
	if d.state == StateReady {
		d.log.Debug("device already open")
		return nil
	}

	t, err := d.dial()
	if err != nil {
		d.state = StateClosed
		return fmt.Errorf("v7x: open device: %w", err)
	}
	d.t = t
	d.state = StateOpen

	if err := t.SetReadTimeout(DefaultReadTimeout); err != nil {
		d.Close()
		return fmt.Errorf("v7x: apply timeouts: %w", err)
	}
	d.state = StateConfigured

	if err := t.Flush(true, true); err != nil {
		d.Close()
		return fmt.Errorf("v7x: flush buffers: %w", err)
	}
	d.state = StateReady

	d.log.Info("device ready")
	return nil
}

// Close releases the transport. Always ends in Closed; closing a
// never-opened or already-closed device is success.
func (d *Device) Close() error {
	if d.t == nil {
		d.state = StateClosed
		return nil
	}

	err := d.t.Close()
	d.t = nil
	d.state = StateClosed

	if err != nil {
		d.log.WithError(err).Warn("transport close failed")
		return fmt.Errorf("v7x: close device: %w", err)
	}
	d.log.Debug("device closed")
	return nil
}

// Send writes one command, appending the CR terminator if absent.
// Commands are 7-bit ASCII; a short write is logged, not failed, since
// HID framing can legitimately split.
func (d *Device) Send(cmd string) error {
	if d.state != StateReady {
		return ErrNotOpen
	}

	trimmed := strings.TrimRight(cmd, "\r")
	for i := 0; i < len(cmd); i++ {
		if cmd[i] > 127 {
			return fmt.Errorf("v7x: command is not ASCII: %q", trimmed)
		}
	}

	d.log.WithField("cmd", trimmed).Debug("TX")

	wire := trimmed + string(cr)
	n, err := d.t.Write([]byte(wire))
	if err != nil {
		return fmt.Errorf("v7x: send %q: %w", trimmed, err)
	}
	if n != len(wire) {
		d.log.WithFields(logrus.Fields{"wrote": n, "want": len(wire)}).Warn("short command write")
	}
	return nil
}

// ReadResponse accumulates bytes until a line feed or until the deadline
// expires. The line feed is excluded and carriage returns are dropped.
// While scanning, the transport runs on the short polling timeout so the
// deadline can be enforced without a single blocking read; the deadline
// bounds total elapsed time and is never extended by arriving bytes.
//
// A deadline that expires mid-line returns the partial text; one that
// expires with nothing returns ErrReadTimeout. Defaults are restored on
// the transport either way.
func (d *Device) ReadResponse(timeout time.Duration) (string, error) {
	if d.state != StateReady {
		return "", ErrNotOpen
	}
	if timeout <= 0 {
		timeout = ResponseTimeout
	}

	if err := d.t.SetReadTimeout(PollReadTimeout); err != nil {
		d.log.WithError(err).Warn("poll timeout not applied")
	}
	defer func() {
		if err := d.t.SetReadTimeout(DefaultReadTimeout); err != nil {
			d.log.WithError(err).Warn("default timeout not restored")
		}
	}()

	var buf []byte
	one := make([]byte, 1)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		n, err := d.t.Read(one)
		if err != nil {
			return "", fmt.Errorf("v7x: read response: %w", err)
		}
		if n == 0 {
			// Benign poll timeout; keep scanning until the deadline.
			time.Sleep(readIdleSleep)
			continue
		}

		switch one[0] {
		case lf:
			resp := strings.TrimSpace(string(buf))
			d.log.WithField("resp", resp).Debug("RX")
			return resp, nil
		case cr:
			// Never significant, never buffered.
		default:
			buf = append(buf, one[0])
		}
	}

	if len(buf) == 0 {
		d.log.WithField("timeout", timeout).Debug("response timed out with no data")
		return "", ErrReadTimeout
	}

	partial := strings.TrimSpace(string(buf))
	d.log.WithField("partial", partial).Warn("deadline before line feed, returning partial response")
	return partial, nil
}

// Query sends a command and reads its response line after a short settle
// delay; the instrument needs processing time before its output buffer
// holds the answer. A zero timeout uses the default response deadline.
func (d *Device) Query(cmd string, timeout time.Duration) (string, error) {
	if err := d.Send(cmd); err != nil {
		return "", err
	}
	time.Sleep(QuerySettle)
	return d.ReadResponse(timeout)
}

// Identify returns the *IDN? identification string.
func (d *Device) Identify() (string, error) {
	return d.Query(CmdIdentify, 0)
}

// Reset issues *RST.
func (d *Device) Reset() error {
	return d.Send(CmdReset)
}

// ClearStatus issues *CLS.
func (d *Device) ClearStatus() error {
	return d.Send(CmdClear)
}

// SelfTest runs *TST? and returns the raw result string.
func (d *Device) SelfTest() (string, error) {
	return d.Query(CmdSelfTest, 0)
}

// Abort issues ABORT to stop any executing sequence.
func (d *Device) Abort() error {
	return d.Send(CmdAbort)
}

// ErrorCode reads the *ERR? register. 0 means no error.
func (d *Device) ErrorCode() (int, error) {
	resp, err := d.Query(CmdError, 0)
	if err != nil {
		return 0, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, fmt.Errorf("v7x: unreadable error register %q: %w", resp, err)
	}
	return code, nil
}
