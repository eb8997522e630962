// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"regexp"
	"strconv"
	"strings"
)

// currentPattern accepts a signed decimal or scientific-notation
// magnitude with an optional mA/uA/A suffix (case-insensitive, bare m/u
// allowed).
var currentPattern = regexp.MustCompile(`(?i)^(-?\d*\.?\d+(?:[eE][-+]?\d+)?)\s*([mu]?a?)?$`)

// ParseCurrent converts a human-entered current ("10mA", "50uA",
// "0.01A", "15") into the canonical amp value the instrument accepts.
//
// Blank input returns "", a valid protocol field meaning "no limit".
// Anything else must match the magnitude-unit grammar or ErrBadCurrent
// is returned; callers must treat that as a validation error, distinct
// from the valid empty case. The result uses the shortest round-trip
// format so the instrument never sees noisy precision.
func ParseCurrent(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}

	m := currentPattern.FindStringSubmatch(input)
	if m == nil {
		return "", ErrBadCurrent
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", ErrBadCurrent
	}

	switch strings.ToLower(m[2]) {
	case "m", "ma":
		value /= 1e3
	case "u", "ua":
		value /= 1e6
	}

	return strconv.FormatFloat(value, 'g', -1, 64), nil
}
