// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"errors"
	"testing"
)

// ============================================================
// Current Parameter Codec Tests
// ============================================================

func TestParseCurrent_UnitConversions(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "milliamps", input: "10mA", expected: "0.01"},
		{name: "microamps", input: "50uA", expected: "5e-05"},
		{name: "bare amps", input: "15", expected: "15"},
		{name: "decimal amps", input: "0.005", expected: "0.005"},
		{name: "explicit A suffix", input: "5A", expected: "5"},
		{name: "bare m suffix", input: "2m", expected: "0.002"},
		{name: "bare u suffix", input: "5u", expected: "5e-06"},
		{name: "uppercase unit", input: "5MA", expected: "0.005"},
		{name: "space before unit", input: "2 mA", expected: "0.002"},
		{name: "scientific notation", input: "1.5e-3", expected: "0.0015"},
		{name: "leading dot", input: ".5", expected: "0.5"},
		{name: "negative value", input: "-5mA", expected: "-0.005"},
		{name: "surrounding whitespace", input: "  10mA  ", expected: "0.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCurrent(tt.input)
			if err != nil {
				t.Fatalf("ParseCurrent(%q) returned error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseCurrent(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseCurrent_BlankMeansNoLimit(t *testing.T) {
	for _, input := range []string{"", "   ", "\t"} {
		got, err := ParseCurrent(input)
		if err != nil {
			t.Errorf("ParseCurrent(%q) should be valid, got error: %v", input, err)
		}
		if got != "" {
			t.Errorf("ParseCurrent(%q) = %q, want empty field", input, got)
		}
	}
}

func TestParseCurrent_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not a number", input: "abc"},
		{name: "unknown unit", input: "5k"},
		{name: "unit without magnitude", input: "mA"},
		{name: "two numbers", input: "5 5"},
		{name: "range notation", input: "0.001-100"},
		{name: "trailing garbage", input: "5mAx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCurrent(tt.input)
			if !errors.Is(err, ErrBadCurrent) {
				t.Errorf("ParseCurrent(%q) = (%q, %v), want ErrBadCurrent", tt.input, got, err)
			}
		})
	}
}

// Round-trip: a canonical value re-parses to itself, so editing a step
// never mangles a previously normalized limit.
func TestParseCurrent_CanonicalIsStable(t *testing.T) {
	for _, input := range []string{"10mA", "50uA", "0.25", "3A"} {
		first, err := ParseCurrent(input)
		if err != nil {
			t.Fatalf("ParseCurrent(%q): %v", input, err)
		}
		second, err := ParseCurrent(first)
		if err != nil {
			t.Fatalf("ParseCurrent(%q): %v", first, err)
		}
		if first != second {
			t.Errorf("canonical form unstable: %q -> %q -> %q", input, first, second)
		}
	}
}
