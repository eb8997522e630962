// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Step Parameter Table Tests
// ============================================================

func TestParamDefs_EveryTypeHasTable(t *testing.T) {
	for _, tt := range TestTypes {
		defs := ParamDefs(tt)
		if len(defs) == 0 {
			t.Errorf("no parameter table for %s", tt)
		}
	}
	if ParamDefs(TestType("BOGUS")) != nil {
		t.Error("unknown type should have no parameter table")
	}
}

func TestDefaultStep_TableDefaults(t *testing.T) {
	cfg := DefaultStep(TestGND)
	want := map[string]string{
		"current":    "10",
		"max_limit":  "0.1",
		"dwell_time": "2.0",
		"freq":       "60",
	}
	for k, v := range want {
		if cfg.Params[k] != v {
			t.Errorf("default %s = %q, want %q", k, cfg.Params[k], v)
		}
	}
	if cfg.GroundCheck {
		t.Error("ground check should default off")
	}
}

// ============================================================
// ADD Command Builder Tests
// ============================================================

func TestBuildAddCommand_WireOrder(t *testing.T) {
	tests := []struct {
		name     string
		cfg      StepConfig
		expected string
	}{
		{
			name: "ACW with normalized limit",
			cfg: StepConfig{Type: TestACW, Params: map[string]string{
				"voltage": "1000", "ramp_time": "1.0", "dwell_time": "2.0",
				"min_limit": "", "max_limit": "5mA",
			}},
			expected: "ADD,ACW,1000,1.0,2.0,,0.005",
		},
		{
			name:     "ACW defaults",
			cfg:      DefaultStep(TestACW),
			expected: "ADD,ACW,1000,1.0,2.0,,0.005",
		},
		{
			name: "ACW with ground check",
			cfg: StepConfig{Type: TestACW, GroundCheck: true, Params: map[string]string{
				"voltage": "1500", "ramp_time": "2.0", "dwell_time": "5.0",
				"min_limit": "1uA", "max_limit": "20mA",
			}},
			expected: "ADD,ACW,1500,2.0,5.0,1e-06,0.02,GND",
		},
		{
			name:     "DCW defaults",
			cfg:      DefaultStep(TestDCW),
			expected: "ADD,DCW,1000,1.0,2.0,,0.005",
		},
		{
			name: "IR limits pass through verbatim",
			cfg: StepConfig{Type: TestIR, Params: map[string]string{
				"voltage": "500", "ramp_time": "1.0", "dwell_time": "2.0",
				"min_limit": "1M", "max_limit": "10G",
			}},
			expected: "ADD,IR,500,1.0,2.0,1M,10G",
		},
		{
			name:     "CONT defaults",
			cfg:      DefaultStep(TestCONT),
			expected: "ADD,CONT,0.1,,0.1,1.0",
		},
		{
			name:     "GND defaults",
			cfg:      DefaultStep(TestGND),
			expected: "ADD,GND,10,0.1,2.0,60",
		},
		{
			name:     "missing params fall back to defaults",
			cfg:      StepConfig{Type: TestCONT, Params: map[string]string{"current": "0.5"}},
			expected: "ADD,CONT,0.5,,0.1,1.0",
		},
		{
			name: "present but blank stays blank",
			cfg: StepConfig{Type: TestGND, Params: map[string]string{
				"current": "25", "max_limit": "", "dwell_time": "3.0", "freq": "50",
			}},
			expected: "ADD,GND,25,,3.0,50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildAddCommand(tt.cfg)
			if err != nil {
				t.Fatalf("BuildAddCommand: %v", err)
			}
			if got != tt.expected {
				t.Errorf("command = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBuildAddCommand_InvalidCurrentAborts(t *testing.T) {
	cfg := StepConfig{Type: TestACW, Params: map[string]string{"max_limit": "lots"}}
	_, err := BuildAddCommand(cfg)
	if !errors.Is(err, ErrBadCurrent) {
		t.Fatalf("expected ErrBadCurrent, got %v", err)
	}
	if !strings.Contains(err.Error(), "max_limit") {
		t.Errorf("error should name the offending field: %v", err)
	}
}

func TestBuildAddCommand_UnknownType(t *testing.T) {
	_, err := BuildAddCommand(StepConfig{Type: TestType("ZAP")})
	if !errors.Is(err, ErrBadStepType) {
		t.Fatalf("expected ErrBadStepType, got %v", err)
	}
}

// GND belongs only to hipot steps; other types must never grow a
// trailing GND field even if the flag is set by mistake.
func TestBuildAddCommand_GroundCheckIgnoredOutsideHipot(t *testing.T) {
	cfg := DefaultStep(TestCONT)
	cfg.GroundCheck = true
	got, err := BuildAddCommand(cfg)
	if err != nil {
		t.Fatalf("BuildAddCommand: %v", err)
	}
	if strings.Contains(got, "GND") {
		t.Errorf("CONT step must not carry GND field: %q", got)
	}
}

func TestStepConfig_Summary(t *testing.T) {
	cfg := DefaultStep(TestACW)
	cfg.GroundCheck = true
	s := cfg.Summary()
	for _, want := range []string{"ACW", "1000V", "dwell 2.0s", "max 5mA", "+GND"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary %q missing %q", s, want)
		}
	}
}
