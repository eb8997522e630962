// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// SequenceIdentity ties the in-memory sequence to a saved record, so a
// loaded sequence can be re-saved under the same name. A zero value
// means the sequence is unsaved.
type SequenceIdentity struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Sequencer programs test steps into the instrument's sequence memory
// while keeping an in-memory mirror of what the device holds. The two
// must never diverge: every mutation talks to the device first and
// touches the mirror only after the device confirms.
//
// A Sequencer is not safe for concurrent use. The transport cannot
// interleave reads, so all access to one device must be serialized by
// the caller.
type Sequencer struct {
	dev      *Device
	log      logrus.FieldLogger
	steps    []StepConfig
	identity SequenceIdentity
}

// NewSequencer wraps dev. The sequencer starts with an empty mirror;
// if the device may hold steps from a previous session, call Clear
// before adding.
func NewSequencer(dev *Device, log logrus.FieldLogger) *Sequencer {
	return &Sequencer{dev: dev, log: ensureLogger(log)}
}

// Len reports the number of steps in the mirrored sequence.
func (s *Sequencer) Len() int { return len(s.steps) }

// Steps returns a copy of the mirrored sequence.
func (s *Sequencer) Steps() []StepConfig {
	out := make([]StepConfig, len(s.steps))
	copy(out, s.steps)
	return out
}

// Identity returns the saved-sequence identity, if any.
func (s *Sequencer) Identity() SequenceIdentity { return s.identity }

// SetIdentity records which saved sequence the mirror corresponds to.
func (s *Sequencer) SetIdentity(id SequenceIdentity) { s.identity = id }

// AddStep programs one step into the device and, once the device
// accepts it, appends it to the mirror. On any failure the mirror is
// untouched, so the caller can fix the step and retry without
// desynchronizing local state from the hardware.
//
// Acceptance is verified by reading the error register after a settle
// delay: a non-zero code means the device rejected the parameters
// (check ranges and formats), and an unreadable register is treated as
// rejection because the device state is unknown.
func (s *Sequencer) AddStep(cfg StepConfig) error {
	if !s.dev.Ready() {
		return ErrNotOpen
	}
	cmd, err := BuildAddCommand(cfg)
	if err != nil {
		return fmt.Errorf("building %s step: %w", cfg.Type, err)
	}
	if err := s.dev.Send(cmd); err != nil {
		return fmt.Errorf("sending %s step: %w", cfg.Type, err)
	}
	time.Sleep(VerifySettle)
	code, err := s.dev.ErrorCode()
	if err != nil {
		return fmt.Errorf("verifying %s step acceptance: %w", cfg.Type, err)
	}
	if code != 0 {
		return &DeviceError{Code: code, Op: CmdAdd + "," + string(cfg.Type)}
	}
	s.steps = append(s.steps, cfg)
	s.log.WithFields(logrus.Fields{
		"type": cfg.Type,
		"step": len(s.steps),
	}).Info("step added")
	return nil
}

// Clear empties the device's sequence memory and then the mirror.
// Device first: the mirror and identity are reset only after the
// device confirms, so a failed clear leaves local state describing
// what the hardware still holds.
func (s *Sequencer) Clear() error {
	if !s.dev.Ready() {
		return ErrNotOpen
	}
	// Flush any latched error so the post-NOSEQ check reflects NOSEQ
	// itself. Best effort; an unreadable register here is not fatal.
	if code, err := s.dev.ErrorCode(); err == nil && code != 0 {
		s.log.WithField("code", code).Debug("clearing latched error before NOSEQ")
		if err := s.dev.ClearStatus(); err != nil {
			return fmt.Errorf("clearing device status: %w", err)
		}
		time.Sleep(QuerySettle)
	}
	if err := s.dev.Send(CmdNoSeq); err != nil {
		return fmt.Errorf("sending %s: %w", CmdNoSeq, err)
	}
	time.Sleep(VerifySettle)
	code, err := s.dev.ErrorCode()
	if err != nil {
		return fmt.Errorf("verifying sequence clear: %w", err)
	}
	if code != 0 {
		return &DeviceError{Code: code, Op: CmdNoSeq}
	}
	s.steps = nil
	s.identity = SequenceIdentity{}
	s.log.Info("device sequence cleared")
	return nil
}

// Restore clears the device and reprograms it with steps, adopting id
// as the new identity. Used when loading a saved sequence. On failure
// the mirror holds exactly the steps the device accepted before the
// error, which may be a prefix of steps.
func (s *Sequencer) Restore(steps []StepConfig, id SequenceIdentity) error {
	if err := s.Clear(); err != nil {
		return err
	}
	for i, cfg := range steps {
		if err := s.AddStep(cfg); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	s.identity = id
	return nil
}

// DeviceStepCount asks the instrument how many steps its sequence
// memory holds. Useful for spotting drift between mirror and hardware.
func (s *Sequencer) DeviceStepCount() (int, error) {
	if !s.dev.Ready() {
		return 0, ErrNotOpen
	}
	resp, err := s.dev.Query(CmdStepCount, 0)
	if err != nil {
		return 0, fmt.Errorf("querying step count: %w", err)
	}
	n, err := strconv.Atoi(resp)
	if err != nil {
		return 0, fmt.Errorf("unexpected %s response %q: %w", CmdStepCount, resp, err)
	}
	return n, nil
}
