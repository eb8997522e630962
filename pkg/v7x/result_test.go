// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"errors"
	"testing"
)

// ============================================================
// Step Result Decoding Tests
// ============================================================

func TestDecodeStepResult_SixFields(t *testing.T) {
	p, err := DecodeStepResult("4,1.2,0,1000,0.005,0.0012")
	if err != nil {
		t.Fatalf("DecodeStepResult: %v", err)
	}
	if p.TermState != "4" {
		t.Errorf("TermState = %q, want %q", p.TermState, "4")
	}
	if p.TermText() != "Completed Normally" {
		t.Errorf("TermText = %q, want %q", p.TermText(), "Completed Normally")
	}
	if p.Elapsed != "1.2" {
		t.Errorf("Elapsed = %q, want %q", p.Elapsed, "1.2")
	}
	if p.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", p.StatusCode)
	}
	if !p.Passed() {
		t.Error("status 0 with normal completion should pass")
	}
	if p.Level != "1000" || p.Limit != "0.005" || p.Measurement != "0.0012" {
		t.Errorf("level/limit/measurement = %q/%q/%q", p.Level, p.Limit, p.Measurement)
	}
	if p.ArcPeak != "" {
		t.Errorf("six-field record has no arc peak, got %q", p.ArcPeak)
	}
}

func TestDecodeStepResult_SeventhFieldIsArcPeak(t *testing.T) {
	p, err := DecodeStepResult("4,2.0,0,1500,0.02,0.003,0.0004")
	if err != nil {
		t.Fatalf("DecodeStepResult: %v", err)
	}
	if p.ArcPeak != "0.0004" {
		t.Errorf("ArcPeak = %q, want %q", p.ArcPeak, "0.0004")
	}
}

func TestDecodeStepResult_FieldsAreTrimmed(t *testing.T) {
	p, err := DecodeStepResult(" 4 , 1.2 , 0 , 1000 , 0.005 , 0.0012 ")
	if err != nil {
		t.Fatalf("DecodeStepResult: %v", err)
	}
	if p.TermState != "4" || p.Measurement != "0.0012" {
		t.Errorf("fields not trimmed: %+v", p)
	}
}

func TestDecodeStepResult_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "too few fields", raw: "x,y"},
		{name: "empty string", raw: ""},
		{name: "five fields", raw: "4,1.2,0,1000,0.005"},
		{name: "status not an integer", raw: "4,1.2,zap,1000,0.005,0.0012"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeStepResult(tt.raw)
			if !errors.Is(err, ErrMalformedResult) {
				t.Errorf("DecodeStepResult(%q) = (%+v, %v), want ErrMalformedResult", tt.raw, p, err)
			}
		})
	}
}

func TestDecodeStepResult_FailingStatus(t *testing.T) {
	p, err := DecodeStepResult("3,0.8,512,1000,0.005,0.0071")
	if err != nil {
		t.Fatalf("DecodeStepResult: %v", err)
	}
	if p.Passed() {
		t.Error("non-zero status must not pass")
	}
	if p.TermText() != "Terminated during Dwell" {
		t.Errorf("TermText = %q", p.TermText())
	}
}

// ============================================================
// Status Bitmask Tests
// ============================================================

func TestDecodeStatusFlags_ZeroIsClean(t *testing.T) {
	if flags := DecodeStatusFlags(0); len(flags) != 0 {
		t.Errorf("status 0 should decode to no flags, got %v", flags)
	}
}

func TestDecodeStatusFlags_AscendingBitOrder(t *testing.T) {
	// 9 = bit 1 (internal fault) + bit 8 (breakdown)
	flags := DecodeStatusFlags(9)
	want := []string{"V7X Internal Fault", "DUT Breakdown Detected"}
	if len(flags) != len(want) {
		t.Fatalf("flags = %v, want %v", flags, want)
	}
	for i := range want {
		if flags[i] != want[i] {
			t.Errorf("flags[%d] = %q, want %q", i, flags[i], want[i])
		}
	}
}

func TestDecodeStatusFlags_EveryDefinedBit(t *testing.T) {
	tests := []struct {
		code int
		desc string
	}{
		{1, "V7X Internal Fault"},
		{32, "User Aborted Sequence"},
		{128, "Arc Detected"},
		{256, "Measurement < Min Limit"},
		{512, "Measurement > Max Limit"},
		{2048, "Interlock Failure"},
		{65536, "Voltage Error"},
	}
	for _, tt := range tests {
		flags := DecodeStatusFlags(tt.code)
		if len(flags) != 1 || flags[0] != tt.desc {
			t.Errorf("DecodeStatusFlags(%d) = %v, want [%q]", tt.code, flags, tt.desc)
		}
	}
}

func TestStatusText(t *testing.T) {
	if got := StatusText(0); got != "PASS" {
		t.Errorf("StatusText(0) = %q", got)
	}
	got := StatusText(9)
	want := "V7X Internal Fault, DUT Breakdown Detected"
	if got != want {
		t.Errorf("StatusText(9) = %q, want %q", got, want)
	}
}

func TestTerminationText(t *testing.T) {
	tests := []struct {
		code string
		text string
	}{
		{"0", "Not Executed"},
		{"1", "Terminated Before Start"},
		{"2", "Terminated during Ramp"},
		{"3", "Terminated during Dwell"},
		{"4", "Completed Normally"},
		{"?", "Unknown/In Process"},
	}
	for _, tt := range tests {
		if got := TerminationText(tt.code); got != tt.text {
			t.Errorf("TerminationText(%q) = %q, want %q", tt.code, got, tt.text)
		}
	}
}

// ============================================================
// Run Result Aggregation Tests
// ============================================================

func TestSequenceRunResult_Passed(t *testing.T) {
	pass := &SequenceRunResult{StatusRaw: "0", StatusCode: 0, StatusKnown: true}
	if !pass.Passed() {
		t.Error("known status 0 should pass")
	}
	fail := &SequenceRunResult{StatusRaw: "514", StatusCode: 514, StatusKnown: true}
	if fail.Passed() {
		t.Error("non-zero status must not pass")
	}
	unknown := &SequenceRunResult{StatusRaw: "garbled"}
	if unknown.Passed() {
		t.Error("unreadable status must not pass")
	}
}

func TestSequenceRunResult_FailureReasons(t *testing.T) {
	// 514 = bit 2 (over voltage) + bit 512 (over max limit)
	r := &SequenceRunResult{StatusCode: 514, StatusKnown: true}
	reasons := r.FailureReasons()
	want := []string{"Over Voltage Output", "Measurement > Max Limit"}
	if len(reasons) != len(want) {
		t.Fatalf("reasons = %v, want %v", reasons, want)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Errorf("reasons[%d] = %q, want %q", i, reasons[i], want[i])
		}
	}
}
