// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments
//
// Dielectric - Vitrek V7X electrical safety tester control
//
// A CLI tool for programming, running and recording hipot, insulation
// resistance, continuity and ground bond test sequences.

package main

import (
	"os"

	"github.com/Benchsafe/dielectric/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
