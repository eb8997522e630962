// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Scripted Transport (fake instrument)
// ============================================================

// scriptedTransport plays the instrument's end of the line protocol.
// Write collects bytes until CR completes a command, records it, and
// queues whatever the reply function returns (raw bytes, terminators
// included) for subsequent reads. Read drains the queue one call at a
// time and reports a benign timeout, (0, nil), once it is empty.
type scriptedTransport struct {
	reply func(cmd string) string

	sent    []string
	line    []byte
	rx      []byte
	timeout time.Duration
	flushes int
	closes  int
	closed  bool

	readErr  error
	writeErr error
}

func newScripted(reply func(cmd string) string) *scriptedTransport {
	return &scriptedTransport{reply: reply}
}

func (m *scriptedTransport) Read(p []byte) (int, error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	if m.closed {
		return 0, ErrClosed
	}
	if len(m.rx) == 0 {
		return 0, nil
	}
	n := copy(p, m.rx)
	m.rx = m.rx[n:]
	return n, nil
}

func (m *scriptedTransport) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.closed {
		return 0, ErrClosed
	}
	for _, b := range p {
		if b == '\r' {
			cmd := string(m.line)
			m.line = nil
			m.sent = append(m.sent, cmd)
			if m.reply != nil {
				m.rx = append(m.rx, m.reply(cmd)...)
			}
		} else {
			m.line = append(m.line, b)
		}
	}
	return len(p), nil
}

func (m *scriptedTransport) SetReadTimeout(d time.Duration) error {
	m.timeout = d
	return nil
}

func (m *scriptedTransport) Flush(tx, rx bool) error {
	m.flushes++
	if rx {
		m.rx = nil
	}
	return nil
}

func (m *scriptedTransport) Close() error {
	m.closes++
	m.closed = true
	return nil
}

// countSent reports how often the device issued the named command,
// matching both bare and comma-argument forms.
func (m *scriptedTransport) countSent(cmd string) int {
	n := 0
	for _, c := range m.sent {
		if c == cmd || strings.HasPrefix(c, cmd+",") {
			n++
		}
	}
	return n
}

func openTestDevice(t *testing.T, m *scriptedTransport) *Device {
	t.Helper()
	d := NewDevice(func() (Transport, error) { return m, nil }, nil)
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

// ============================================================
// Lifecycle Tests
// ============================================================

func TestDevice_OpenWalksToReady(t *testing.T) {
	m := newScripted(nil)
	d := NewDevice(func() (Transport, error) { return m, nil }, nil)

	if d.State() != StateClosed {
		t.Fatalf("initial state = %v, want closed", d.State())
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !d.Ready() {
		t.Errorf("state after open = %v, want ready", d.State())
	}
	if m.flushes == 0 {
		t.Error("open must flush stale buffers")
	}
	if m.timeout != DefaultReadTimeout {
		t.Errorf("read timeout = %v, want %v", m.timeout, DefaultReadTimeout)
	}
}

func TestDevice_ReopenIsNoop(t *testing.T) {
	dials := 0
	m := newScripted(nil)
	d := NewDevice(func() (Transport, error) { dials++; return m, nil }, nil)
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if dials != 1 {
		t.Errorf("dialed %d times, want 1", dials)
	}
}

func TestDevice_DialFailureStaysClosed(t *testing.T) {
	boom := errors.New("no such device")
	d := NewDevice(func() (Transport, error) { return nil, boom }, nil)
	if err := d.Open(); !errors.Is(err, boom) {
		t.Fatalf("Open = %v, want wrapped dial error", err)
	}
	if d.State() != StateClosed {
		t.Errorf("state after failed open = %v, want closed", d.State())
	}
}

func TestDevice_CloseIsIdempotent(t *testing.T) {
	m := newScripted(nil)
	d := openTestDevice(t, m)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if m.closes != 1 {
		t.Errorf("transport closed %d times, want 1", m.closes)
	}
	if d.State() != StateClosed {
		t.Errorf("state = %v, want closed", d.State())
	}
}

func TestDevice_ReopenAfterClose(t *testing.T) {
	dials := 0
	d := NewDevice(func() (Transport, error) {
		dials++
		return newScripted(nil), nil
	}, nil)
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if dials != 2 {
		t.Errorf("dialed %d times, want 2", dials)
	}
	if !d.Ready() {
		t.Error("device should be ready after reopen")
	}
}

// ============================================================
// Command Framing Tests
// ============================================================

func TestDevice_SendAppendsSingleCR(t *testing.T) {
	m := newScripted(nil)
	d := openTestDevice(t, m)

	if err := d.Send("RUN"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := d.Send("ABORT\r"); err != nil {
		t.Fatalf("Send with explicit CR: %v", err)
	}
	if len(m.sent) != 2 || m.sent[0] != "RUN" || m.sent[1] != "ABORT" {
		t.Errorf("commands on the wire = %v", m.sent)
	}
	if len(m.line) != 0 {
		t.Errorf("unterminated bytes left on the wire: %q", m.line)
	}
}

func TestDevice_SendRejectsNonASCII(t *testing.T) {
	m := newScripted(nil)
	d := openTestDevice(t, m)

	if err := d.Send("ADD,ACW,1000µ"); err == nil {
		t.Fatal("non-ASCII command must be rejected")
	}
	if len(m.sent) != 0 {
		t.Errorf("rejected command still reached the wire: %v", m.sent)
	}
}

func TestDevice_SendRequiresOpen(t *testing.T) {
	d := NewDevice(func() (Transport, error) { return newScripted(nil), nil }, nil)
	if err := d.Send("RUN"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send on closed device = %v, want ErrNotOpen", err)
	}
}

// ============================================================
// Response Framing Tests
// ============================================================

func TestDevice_ReadResponse_Framing(t *testing.T) {
	tests := []struct {
		name     string
		wire     string
		expected string
	}{
		{name: "line feed terminates", wire: "XM,V7X,12345\n", expected: "XM,V7X,12345"},
		{name: "carriage return stripped", wire: "0\r\n", expected: "0"},
		{name: "embedded carriage returns stripped", wire: "A\rB\rC\n", expected: "ABC"},
		{name: "surrounding whitespace trimmed", wire: "  0 \n", expected: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newScripted(nil)
			d := openTestDevice(t, m)
			m.rx = []byte(tt.wire)

			got, err := d.ReadResponse(200 * time.Millisecond)
			if err != nil {
				t.Fatalf("ReadResponse: %v", err)
			}
			if got != tt.expected {
				t.Errorf("response = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDevice_ReadResponse_PartialOnDeadline(t *testing.T) {
	m := newScripted(nil)
	d := openTestDevice(t, m)
	m.rx = []byte("PARTIAL") // no terminator ever arrives

	got, err := d.ReadResponse(80 * time.Millisecond)
	if err != nil {
		t.Fatalf("partial read should not error, got %v", err)
	}
	if got != "PARTIAL" {
		t.Errorf("response = %q, want %q", got, "PARTIAL")
	}
}

func TestDevice_ReadResponse_TimeoutWithNoData(t *testing.T) {
	m := newScripted(nil)
	d := openTestDevice(t, m)

	start := time.Now()
	_, err := d.ReadResponse(60 * time.Millisecond)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("deadline not enforced, took %v", elapsed)
	}
}

func TestDevice_ReadResponse_HardFault(t *testing.T) {
	m := newScripted(nil)
	d := openTestDevice(t, m)
	m.readErr = errors.New("bridge unplugged")

	_, err := d.ReadResponse(100 * time.Millisecond)
	if err == nil || errors.Is(err, ErrReadTimeout) {
		t.Fatalf("hard fault must surface as an error, got %v", err)
	}
}

func TestDevice_ReadResponse_RestoresDefaultTimeout(t *testing.T) {
	m := newScripted(nil)
	d := openTestDevice(t, m)
	m.rx = []byte("0\n")

	if _, err := d.ReadResponse(100 * time.Millisecond); err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if m.timeout != DefaultReadTimeout {
		t.Errorf("timeout after read = %v, want %v restored", m.timeout, DefaultReadTimeout)
	}
}

// ============================================================
// Query and Register Tests
// ============================================================

func TestDevice_QueryRoundtrip(t *testing.T) {
	m := newScripted(func(cmd string) string {
		if cmd == CmdIdentify {
			return "XM,V7X-5,123456,2.01\r\n"
		}
		return ""
	})
	d := openTestDevice(t, m)

	id, err := d.Identify()
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if id != "XM,V7X-5,123456,2.01" {
		t.Errorf("identity = %q", id)
	}
}

func TestDevice_ErrorCode(t *testing.T) {
	replies := []string{"0\n", "12\n", "garbage\n"}
	i := 0
	m := newScripted(func(cmd string) string {
		if cmd != CmdError {
			return ""
		}
		r := replies[i]
		i++
		return r
	})
	d := openTestDevice(t, m)

	code, err := d.ErrorCode()
	if err != nil || code != 0 {
		t.Errorf("first ErrorCode = (%d, %v), want (0, nil)", code, err)
	}
	code, err = d.ErrorCode()
	if err != nil || code != 12 {
		t.Errorf("second ErrorCode = (%d, %v), want (12, nil)", code, err)
	}
	if _, err = d.ErrorCode(); err == nil {
		t.Error("non-integer register must error")
	}
}
