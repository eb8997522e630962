// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"fmt"
	"strings"
)

// ParamKind selects how a parameter value is encoded into an ADD command.
type ParamKind int

const (
	// ParamVerbatim sends the value exactly as entered. A blank value
	// becomes an empty field, which the tester reads as "no limit".
	ParamVerbatim ParamKind = iota
	// ParamCurrent normalizes the value through ParseCurrent before
	// sending, so "5mA" and "0.005" produce the same field.
	ParamCurrent
	// ParamGroundFlag is a boolean that, when set, appends the literal
	// "GND" field enabling the continuous ground check during the step.
	ParamGroundFlag
)

// ParamDef describes one parameter slot of a test step. The slice order
// within stepParams is the wire order of the ADD command fields.
type ParamDef struct {
	Key     string    // key in StepConfig.Params
	Label   string    // human-readable name for prompts and display
	Default string    // value used when the key is absent
	Hint    string    // accepted range or format, for help text
	Kind    ParamKind // encoding rule
}

// stepParams is the full parameter table for every supported test type.
// Order matters: the V7X assigns meaning to ADD fields positionally.
var stepParams = map[TestType][]ParamDef{
	TestACW: {
		{Key: "voltage", Label: "Voltage (V)", Default: "1000", Hint: "50-5000 V"},
		{Key: "ramp_time", Label: "Ramp Time (s)", Default: "1.0", Hint: "0.1-999 s"},
		{Key: "dwell_time", Label: "Dwell Time (s)", Default: "2.0", Hint: "0.2-999 s"},
		{Key: "min_limit", Label: "Min Current Limit", Default: "", Hint: "e.g., 1uA, 0.5mA (blank=none)", Kind: ParamCurrent},
		{Key: "max_limit", Label: "Max Current Limit", Default: "5mA", Hint: "e.g., 20mA, 0.01A (0.001-100A range)", Kind: ParamCurrent},
		{Key: "ground_check", Label: "Ground Check", Default: "", Hint: "true to verify the safety ground during the step", Kind: ParamGroundFlag},
	},
	TestDCW: {
		{Key: "voltage", Label: "Voltage (V)", Default: "1000", Hint: "50-6000 V"},
		{Key: "ramp_time", Label: "Ramp Time (s)", Default: "1.0", Hint: "0.1-999 s"},
		{Key: "dwell_time", Label: "Dwell Time (s)", Default: "2.0", Hint: "0.2-999 s"},
		{Key: "min_limit", Label: "Min Current Limit", Default: "", Hint: "e.g., 1uA (blank=none)", Kind: ParamCurrent},
		{Key: "max_limit", Label: "Max Current Limit", Default: "5mA", Hint: "e.g., 5mA, 500uA (1uA-20mA range)", Kind: ParamCurrent},
		{Key: "ground_check", Label: "Ground Check", Default: "", Hint: "true to verify the safety ground during the step", Kind: ParamGroundFlag},
	},
	TestIR: {
		{Key: "voltage", Label: "Voltage (V)", Default: "500", Hint: "50-6000 V"},
		{Key: "ramp_time", Label: "Ramp Time (s)", Default: "1.0", Hint: "0.1-999 s"},
		{Key: "dwell_time", Label: "Dwell Time (s)", Default: "2.0", Hint: "0.2-999 s"},
		{Key: "min_limit", Label: "Min Resistance (Ohm)", Default: "", Hint: "e.g., 1M, 500k (blank=none)"},
		{Key: "max_limit", Label: "Max Resistance (Ohm)", Default: "", Hint: "e.g., 10G (blank=none)"},
	},
	TestCONT: {
		{Key: "current", Label: "Test Current (A)", Default: "0.1", Hint: "0.01-30 A"},
		{Key: "min_limit", Label: "Min Resistance (Ohm)", Default: "", Hint: "blank=none"},
		{Key: "max_limit", Label: "Max Resistance (Ohm)", Default: "0.1", Hint: "recommended < 1 Ohm"},
		{Key: "dwell_time", Label: "Dwell Time (s)", Default: "1.0", Hint: "0.2-999 s"},
	},
	TestGND: {
		{Key: "current", Label: "Test Current (A)", Default: "10", Hint: "1-30 A"},
		{Key: "max_limit", Label: "Max Resistance (Ohm)", Default: "0.1", Hint: "0.001-1 Ohm"},
		{Key: "dwell_time", Label: "Dwell Time (s)", Default: "2.0", Hint: "0.2-999 s"},
		{Key: "freq", Label: "Frequency (Hz)", Default: "60", Hint: "50 or 60"},
	},
}

// ParamDefs returns the ordered parameter definitions for a test type,
// or nil if the type is unknown. The returned slice is shared; callers
// must not modify it.
func ParamDefs(t TestType) []ParamDef {
	return stepParams[t]
}

// StepConfig is one entry of a test sequence. Params holds raw
// user-entered values keyed by ParamDef.Key; missing keys fall back to
// the table defaults when the ADD command is built.
type StepConfig struct {
	Type        TestType          `json:"type" yaml:"type"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Params      map[string]string `json:"params" yaml:"params"`
	GroundCheck bool              `json:"ground_check,omitempty" yaml:"ground_check,omitempty"`
}

// DefaultStep returns a StepConfig for t with every parameter set to
// its table default.
func DefaultStep(t TestType) StepConfig {
	cfg := StepConfig{Type: t, Params: make(map[string]string)}
	for _, def := range stepParams[t] {
		if def.Kind == ParamGroundFlag {
			continue
		}
		cfg.Params[def.Key] = def.Default
	}
	return cfg
}

// param resolves one parameter value, falling back to the table default
// when the key is absent. Present-but-blank values are kept blank so a
// cleared limit field stays cleared.
func (c StepConfig) param(def ParamDef) string {
	if c.Params != nil {
		if v, ok := c.Params[def.Key]; ok {
			return v
		}
	}
	return def.Default
}

// Summary renders a short one-line description of the step for lists
// and logs, e.g. "ACW 1000V dwell 2.0s max 5mA".
func (c StepConfig) Summary() string {
	var b strings.Builder
	b.WriteString(string(c.Type))
	for _, def := range stepParams[c.Type] {
		v := c.param(def)
		if v == "" {
			continue
		}
		switch def.Key {
		case "voltage":
			b.WriteString(" " + v + "V")
		case "current":
			b.WriteString(" " + v + "A")
		case "dwell_time":
			b.WriteString(" dwell " + v + "s")
		case "max_limit":
			b.WriteString(" max " + v)
		}
	}
	if c.GroundCheck {
		b.WriteString(" +GND")
	}
	return b.String()
}

// BuildAddCommand encodes the step as a complete ADD command line
// (without the trailing CR). Current-typed limits are normalized via
// ParseCurrent; a value that fails to parse aborts the build so nothing
// half-formed ever reaches the device. Blank values are transmitted as
// empty fields.
func BuildAddCommand(cfg StepConfig) (string, error) {
	defs, ok := stepParams[cfg.Type]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadStepType, string(cfg.Type))
	}
	fields := make([]string, 0, len(defs)+2)
	fields = append(fields, CmdAdd, string(cfg.Type))
	for _, def := range defs {
		switch def.Kind {
		case ParamGroundFlag:
			if cfg.GroundCheck {
				fields = append(fields, "GND")
			}
		case ParamCurrent:
			parsed, err := ParseCurrent(cfg.param(def))
			if err != nil {
				return "", fmt.Errorf("%s: %w", def.Key, err)
			}
			fields = append(fields, parsed)
		default:
			fields = append(fields, cfg.param(def))
		}
	}
	return strings.Join(fields, ","), nil
}
