// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsedStepResult is a decoded STEPRSLT? record. Numeric fields other
// than the status bitmask stay verbatim strings; presentation and
// storage layers convert where they need to and degrade gracefully
// where they cannot.
type ParsedStepResult struct {
	// TermState is the termination code ("0".."4", "?").
	TermState string
	// Elapsed is the step duration in seconds, as reported.
	Elapsed string
	// StatusCode is the failure bitmask; 0 means pass.
	StatusCode int
	// Level is the applied test value (volts or amps by step kind).
	Level string
	// Limit is the threshold the measurement was compared against.
	Limit string
	// Measurement is the observed value.
	Measurement string
	// ArcPeak is the optional seventh field, the peak arc current on
	// withstand steps. Empty when the instrument omits it.
	ArcPeak string
}

// TermText is the human-readable termination reason.
func (p *ParsedStepResult) TermText() string {
	return TerminationText(p.TermState)
}

// Passed reports whether the step completed with a clean status.
func (p *ParsedStepResult) Passed() bool {
	return p.StatusCode == 0
}

// StepResult pairs the raw instrument record with its decoded form.
// Parsed is nil when the record was malformed; the raw text is always
// retained for display and logging.
type StepResult struct {
	StepNumber int
	Raw        string
	Parsed     *ParsedStepResult
}

// SequenceRunResult is the outcome of one sequence execution: the
// overall status bitmask plus one StepResult per configured step, in
// step-number order. It is created fresh per run and never mutated
// afterwards.
type SequenceRunResult struct {
	// StatusRaw is the RSLT? response as received; empty when the query
	// failed.
	StatusRaw string
	// StatusCode is the decoded overall bitmask; valid only when
	// StatusKnown.
	StatusCode  int
	StatusKnown bool
	Steps       []StepResult
}

// Passed reports a clean overall status. An unknown status never passes.
func (r *SequenceRunResult) Passed() bool {
	return r.StatusKnown && r.StatusCode == 0
}

// FailureReasons decodes the overall bitmask into human-readable causes.
func (r *SequenceRunResult) FailureReasons() []string {
	if !r.StatusKnown {
		return []string{"overall status unreadable"}
	}
	return DecodeStatusFlags(r.StatusCode)
}

// DecodeStepResult splits a STEPRSLT? record into named fields. At least
// six comma-separated fields are required (termination state, elapsed
// time, status code, level, limit, measurement); a seventh becomes the
// arc peak. Fewer fields, or an unreadable status code, is a soft
// failure: the caller keeps the raw record and carries on.
func DecodeStepResult(raw string) (*ParsedStepResult, error) {
	fields := strings.Split(raw, ",")
	if len(fields) < 6 {
		return nil, fmt.Errorf("%w: %d fields in %q", ErrMalformedResult, len(fields), raw)
	}

	status, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return nil, fmt.Errorf("%w: status %q in %q", ErrMalformedResult, fields[2], raw)
	}

	p := &ParsedStepResult{
		TermState:   strings.TrimSpace(fields[0]),
		Elapsed:     strings.TrimSpace(fields[1]),
		StatusCode:  status,
		Level:       strings.TrimSpace(fields[3]),
		Limit:       strings.TrimSpace(fields[4]),
		Measurement: strings.TrimSpace(fields[5]),
	}
	if len(fields) >= 7 {
		p.ArcPeak = strings.TrimSpace(fields[6])
	}
	return p, nil
}

// DecodeStatusFlags expands a status bitmask into its failure
// descriptions in ascending bit order. Zero decodes to nothing: pass.
func DecodeStatusFlags(code int) []string {
	var out []string
	for _, f := range statusFlags {
		if code&f.Bit != 0 {
			out = append(out, f.Desc)
		}
	}
	return out
}

// StatusText joins the decoded flags for display; a clean code reads
// "PASS".
func StatusText(code int) string {
	if code == 0 {
		return "PASS"
	}
	flags := DecodeStatusFlags(code)
	if len(flags) == 0 {
		return fmt.Sprintf("unknown status %d", code)
	}
	return strings.Join(flags, ", ")
}

// LookupTermination resolves a termination code against the fixed
// table, reporting whether the code is one the instrument defines.
func LookupTermination(code string) (string, bool) {
	text, ok := terminationStates[code]
	return text, ok
}

// TerminationText names a termination code; unknown codes pass through
// quoted so raw instrument values stay visible.
func TerminationText(code string) string {
	if text, ok := LookupTermination(code); ok {
		return text
	}
	return fmt.Sprintf("Unrecognized (%q)", code)
}
