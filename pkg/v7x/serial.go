// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// SerialTransport drives the instrument through an ordinary serial port,
// for bridges that enumerate as a COM device or for the RS-232 option
// card. The port is configured to the instrument's fixed link settings
// on open.
type SerialTransport struct {
	port serial.Port
	name string
	log  logrus.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

// ListSerialPorts names the serial ports present on the host.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// OpenSerial opens and configures the named port.
func OpenSerial(portName string, baud int, log logrus.FieldLogger) (*SerialTransport, error) {
	log = ensureLogger(log)
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("v7x: open serial port %s: %w", portName, err)
	}

	t := &SerialTransport{port: port, name: portName, log: log}

	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("v7x: set read timeout on %s: %w", portName, err)
	}

	log.WithFields(logrus.Fields{"port": portName, "baud": baud}).Info("opened serial port")
	return t, nil
}

func (t *SerialTransport) Read(p []byte) (int, error) {
	return t.port.Read(p)
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

// SetReadTimeout adjusts the port read timeout; the library returns
// (0, nil) when it expires, which is exactly the Transport contract.
func (t *SerialTransport) SetReadTimeout(d time.Duration) error {
	return t.port.SetReadTimeout(d)
}

// Flush drops the requested port buffers.
func (t *SerialTransport) Flush(tx, rx bool) error {
	if tx {
		if err := t.port.ResetOutputBuffer(); err != nil {
			return fmt.Errorf("v7x: flush tx on %s: %w", t.name, err)
		}
	}
	if rx {
		if err := t.port.ResetInputBuffer(); err != nil {
			return fmt.Errorf("v7x: flush rx on %s: %w", t.name, err)
		}
	}
	return nil
}

// Close releases the port. Safe to call more than once.
func (t *SerialTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.port.Close()
		t.log.WithField("port", t.name).Debug("closed serial port")
	})
	return t.closeErr
}
