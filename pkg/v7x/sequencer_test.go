// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"errors"
	"testing"
)

func newTestSequencer(t *testing.T, reply func(cmd string) string) (*Sequencer, *scriptedTransport) {
	t.Helper()
	m := newScripted(reply)
	d := openTestDevice(t, m)
	return NewSequencer(d, nil), m
}

// errAlways answers the error register with the same code forever.
func errAlways(code string) func(cmd string) string {
	return func(cmd string) string {
		if cmd == CmdError {
			return code + "\n"
		}
		return ""
	}
}

// ============================================================
// AddStep Tests
// ============================================================

func TestSequencer_AddStep_AppendsAfterDeviceAccepts(t *testing.T) {
	s, m := newTestSequencer(t, errAlways("0"))

	cfg := StepConfig{Type: TestACW, Params: map[string]string{
		"voltage": "1000", "ramp_time": "1.0", "dwell_time": "2.0",
		"min_limit": "", "max_limit": "5mA",
	}}
	if err := s.AddStep(cfg); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("mirror length = %d, want 1", s.Len())
	}
	if m.sent[0] != "ADD,ACW,1000,1.0,2.0,,0.005" {
		t.Errorf("wire command = %q", m.sent[0])
	}
	if m.countSent(CmdError) != 1 {
		t.Errorf("error register read %d times, want 1", m.countSent(CmdError))
	}
}

func TestSequencer_AddStep_RejectionLeavesMirrorUntouched(t *testing.T) {
	s, _ := newTestSequencer(t, errAlways("3"))

	err := s.AddStep(DefaultStep(TestACW))
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if devErr.Code != 3 {
		t.Errorf("device error code = %d, want 3", devErr.Code)
	}
	if s.Len() != 0 {
		t.Errorf("rejected step must not enter the mirror, length = %d", s.Len())
	}
}

func TestSequencer_AddStep_UnreadableRegisterIsFailure(t *testing.T) {
	s, m := newTestSequencer(t, nil)
	m.readErr = errors.New("bridge unplugged")

	if err := s.AddStep(DefaultStep(TestGND)); err == nil {
		t.Fatal("unverifiable add must fail")
	}
	if s.Len() != 0 {
		t.Errorf("unverified step must not enter the mirror, length = %d", s.Len())
	}
}

func TestSequencer_AddStep_BadCurrentNeverReachesWire(t *testing.T) {
	s, m := newTestSequencer(t, errAlways("0"))

	cfg := DefaultStep(TestDCW)
	cfg.Params["max_limit"] = "bogus"
	if err := s.AddStep(cfg); !errors.Is(err, ErrBadCurrent) {
		t.Fatalf("expected ErrBadCurrent, got %v", err)
	}
	if len(m.sent) != 0 {
		t.Errorf("invalid step reached the wire: %v", m.sent)
	}
	if s.Len() != 0 {
		t.Errorf("invalid step entered the mirror, length = %d", s.Len())
	}
}

func TestSequencer_AddStep_RequiresOpen(t *testing.T) {
	d := NewDevice(func() (Transport, error) { return newScripted(nil), nil }, nil)
	s := NewSequencer(d, nil)
	if err := s.AddStep(DefaultStep(TestACW)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestSequencer_Steps_ReturnsCopy(t *testing.T) {
	s, _ := newTestSequencer(t, errAlways("0"))
	if err := s.AddStep(DefaultStep(TestCONT)); err != nil {
		t.Fatalf("AddStep: %v", err)
	}

	steps := s.Steps()
	steps[0].Type = TestGND
	if s.Steps()[0].Type != TestCONT {
		t.Error("Steps must return a copy, mirror was mutated")
	}
}

// ============================================================
// Clear Tests
// ============================================================

func TestSequencer_Clear_ResetsMirrorAfterDeviceConfirms(t *testing.T) {
	s, m := newTestSequencer(t, errAlways("0"))
	s.steps = []StepConfig{DefaultStep(TestACW)}
	s.identity = SequenceIdentity{ID: "a1", Name: "acceptance"}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("mirror length = %d after clear", s.Len())
	}
	if s.Identity() != (SequenceIdentity{}) {
		t.Errorf("identity not reset: %+v", s.Identity())
	}
	if m.countSent(CmdNoSeq) != 1 {
		t.Error("NOSEQ never reached the wire")
	}
}

func TestSequencer_Clear_FlushesLatchedErrorFirst(t *testing.T) {
	errReads := 0
	s, m := newTestSequencer(t, func(cmd string) string {
		if cmd == CmdError {
			errReads++
			if errReads == 1 {
				return "5\n" // latched from some earlier command
			}
			return "0\n"
		}
		return ""
	})

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	want := []string{CmdError, CmdClear, CmdNoSeq, CmdError}
	if len(m.sent) != len(want) {
		t.Fatalf("wire sequence = %v, want %v", m.sent, want)
	}
	for i := range want {
		if m.sent[i] != want[i] {
			t.Errorf("wire[%d] = %q, want %q", i, m.sent[i], want[i])
		}
	}
}

func TestSequencer_Clear_FailureKeepsMirror(t *testing.T) {
	errReads := 0
	s, _ := newTestSequencer(t, func(cmd string) string {
		if cmd == CmdError {
			errReads++
			if errReads == 1 {
				return "0\n"
			}
			return "2\n" // NOSEQ rejected
		}
		return ""
	})
	s.steps = []StepConfig{DefaultStep(TestACW), DefaultStep(TestIR)}
	s.identity = SequenceIdentity{ID: "b2", Name: "burn-in"}

	err := s.Clear()
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("failed clear wiped the mirror, length = %d", s.Len())
	}
	if s.Identity().ID != "b2" {
		t.Errorf("failed clear wiped the identity: %+v", s.Identity())
	}
}

// ============================================================
// Restore and Step Count Tests
// ============================================================

func TestSequencer_Restore(t *testing.T) {
	s, m := newTestSequencer(t, errAlways("0"))
	s.steps = []StepConfig{DefaultStep(TestGND)} // stale mirror to replace

	steps := []StepConfig{DefaultStep(TestACW), DefaultStep(TestCONT)}
	id := SequenceIdentity{ID: "c3", Name: "line-end", Description: "final assembly check"}
	if err := s.Restore(steps, id); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("mirror length = %d, want 2", s.Len())
	}
	if s.Steps()[0].Type != TestACW || s.Steps()[1].Type != TestCONT {
		t.Errorf("mirror = %v", s.Steps())
	}
	if s.Identity() != id {
		t.Errorf("identity = %+v, want %+v", s.Identity(), id)
	}
	if m.countSent(CmdNoSeq) != 1 || m.countSent(CmdAdd) != 2 {
		t.Errorf("wire = %v", m.sent)
	}
}

func TestSequencer_DeviceStepCount(t *testing.T) {
	s, _ := newTestSequencer(t, func(cmd string) string {
		if cmd == CmdStepCount {
			return "3\n"
		}
		return ""
	})
	n, err := s.DeviceStepCount()
	if err != nil {
		t.Fatalf("DeviceStepCount: %v", err)
	}
	if n != 3 {
		t.Errorf("device step count = %d, want 3", n)
	}
}
