// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected conditions. Timeouts and instrument
// rejections are values, never panics; callers branch on them with
// errors.Is / errors.As.
var (
	// ErrNotOpen is returned by driver operations before a successful Open.
	ErrNotOpen = errors.New("v7x: device not open")
	// ErrNoDevice is returned when enumeration finds no matching bridge.
	ErrNoDevice = errors.New("v7x: no device found")
	// ErrClosed is returned by transport operations after Close.
	ErrClosed = errors.New("v7x: transport closed")
	// ErrReadTimeout is returned when a response deadline expires with no
	// data at all. A deadline that expires mid-line returns the partial
	// text instead.
	ErrReadTimeout = errors.New("v7x: response timed out")
	// ErrBadCurrent is returned for current strings that match neither the
	// magnitude-unit grammar nor the valid empty "no limit" form.
	ErrBadCurrent = errors.New("v7x: invalid current value")
	// ErrMalformedResult is returned for step result records with fewer
	// than the six required fields.
	ErrMalformedResult = errors.New("v7x: malformed step result record")
	// ErrSequenceEmpty is returned by Run when no steps are loaded.
	ErrSequenceEmpty = errors.New("v7x: sequence is empty")
	// ErrBadStepType is returned for step kinds outside the fixed enum.
	ErrBadStepType = errors.New("v7x: invalid test type")
)

// DeviceError reports a non-zero instrument error register (*ERR?) after
// a command.
type DeviceError struct {
	Code int
	Op   string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("v7x: device reported error %d after %s", e.Code, e.Op)
}

// RunAbortedError reports a run that ended in the Aborted state, with the
// condition that forced the abort. Cause carries the underlying error
// when one exists (context cancellation, send failure), so errors.Is
// still sees through it.
type RunAbortedError struct {
	Reason string
	Cause  error
}

func (e *RunAbortedError) Error() string {
	return "v7x: run aborted: " + e.Reason
}

func (e *RunAbortedError) Unwrap() error { return e.Cause }
