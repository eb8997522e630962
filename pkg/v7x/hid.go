// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"fmt"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"github.com/sirupsen/logrus"
)

// hidReportSize is the interrupt report size of the bridge. Data reports
// carry the payload length as the report ID (1..63) followed by that many
// bytes.
const (
	hidReportSize  = 64
	hidMaxDataSize = hidReportSize - 1
)

// HIDTransport talks to the V7X through its CP2110-class HID-UART bridge.
//
// The HID binding only offers blocking reads, so a pump goroutine moves
// incoming reports into a channel and Read bounds its wait on that
// channel with the configured timeout. The bridge ships factory
// configured for the instrument's fixed UART settings; the binding
// exposes no UART control, so configuration is informational only.
type HIDTransport struct {
	dev *hid.Device
	log logrus.FieldLogger

	readTimeout time.Duration

	reports chan []byte
	pending []byte

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	pumpErr error
}

// CountHIDDevices reports how many matching bridges are attached.
// Enumeration problems are logged and counted as zero, never raised.
func CountHIDDevices(log logrus.FieldLogger) int {
	log = ensureLogger(log)
	if !hid.Supported() {
		log.Warn("HID support unavailable on this platform")
		return 0
	}
	n := len(hid.Enumerate(VendorID, ProductID))
	log.WithField("count", n).Debug("enumerated HID-UART bridges")
	return n
}

// OpenHID opens the index-th attached bridge (0 = first found).
func OpenHID(index int, log logrus.FieldLogger) (*HIDTransport, error) {
	log = ensureLogger(log)

	infos := hid.Enumerate(VendorID, ProductID)
	if len(infos) == 0 {
		return nil, ErrNoDevice
	}
	if index < 0 || index >= len(infos) {
		return nil, fmt.Errorf("v7x: HID device index %d out of range [0, %d]", index, len(infos)-1)
	}

	dev, err := infos[index].Open()
	if err != nil {
		return nil, fmt.Errorf("v7x: open HID device %d: %w", index, err)
	}

	t := &HIDTransport{
		dev:         dev,
		log:         log,
		readTimeout: DefaultReadTimeout,
		reports:     make(chan []byte, 64),
		closed:      make(chan struct{}),
	}
	go t.pump()

	log.WithFields(logrus.Fields{
		"index":   index,
		"product": infos[index].Product,
		"serial":  infos[index].Serial,
	}).Info("opened HID-UART bridge")
	return t, nil
}

// pump drains the device into the report channel until the device read
// fails, which happens on unplug or Close.
func (t *HIDTransport) pump() {
	defer close(t.reports)

	buf := make([]byte, hidReportSize)
	for {
		n, err := t.dev.Read(buf)
		if err != nil {
			select {
			case <-t.closed:
				// Expected: Close unblocked the read.
			default:
				t.mu.Lock()
				t.pumpErr = err
				t.mu.Unlock()
				t.log.WithError(err).Warn("HID read loop stopped")
			}
			return
		}
		if n < 2 {
			continue
		}

		// First byte is the report ID, equal to the count of valid data
		// bytes that follow; the rest of the report is padding.
		count := int(buf[0])
		if count > n-1 {
			count = n - 1
		}
		if count > hidMaxDataSize {
			count = hidMaxDataSize
		}
		if count == 0 {
			continue
		}

		payload := make([]byte, count)
		copy(payload, buf[1:1+count])

		select {
		case t.reports <- payload:
		case <-t.closed:
			return
		}
	}
}

// Read returns buffered bridge data, waiting up to the configured read
// timeout for the next report. A timeout with nothing received returns
// (0, nil).
func (t *HIDTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		return n, nil
	}

	timer := time.NewTimer(t.readTimeout)
	defer timer.Stop()

	select {
	case payload, ok := <-t.reports:
		if !ok {
			t.mu.Lock()
			err := t.pumpErr
			t.mu.Unlock()
			if err != nil {
				return 0, fmt.Errorf("v7x: HID read: %w", err)
			}
			return 0, ErrClosed
		}
		n := copy(p, payload)
		if n < len(payload) {
			t.pending = payload[n:]
		}
		return n, nil
	case <-t.closed:
		return 0, ErrClosed
	case <-timer.C:
		return 0, nil
	}
}

// Write sends p as a series of data reports.
func (t *HIDTransport) Write(p []byte) (int, error) {
	select {
	case <-t.closed:
		return 0, ErrClosed
	default:
	}

	written := 0
	report := make([]byte, 0, hidReportSize)
	for len(p) > 0 {
		chunk := p
		if len(chunk) > hidMaxDataSize {
			chunk = chunk[:hidMaxDataSize]
		}

		report = report[:0]
		report = append(report, byte(len(chunk)))
		report = append(report, chunk...)

		if _, err := t.dev.Write(report); err != nil {
			return written, fmt.Errorf("v7x: HID write: %w", err)
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// SetReadTimeout bounds how long a single Read waits for the next report.
func (t *HIDTransport) SetReadTimeout(d time.Duration) error {
	t.readTimeout = d
	return nil
}

// Flush discards locally buffered receive data. The binding exposes no
// FIFO purge, so the transmit side is already flat by the time Write
// returns.
func (t *HIDTransport) Flush(tx, rx bool) error {
	if !rx {
		return nil
	}
	t.pending = nil
	for {
		select {
		case _, ok := <-t.reports:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

// Close shuts the pump down and releases the device. Safe to call more
// than once.
func (t *HIDTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.closeErr = t.dev.Close()
		t.log.Debug("closed HID-UART bridge")
	})
	return t.closeErr
}
