// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var probeSelfTest bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Identify the attached tester",
	Long: `Open the configured connection, identify the instrument and read its
error register.

With --selftest the instrument's internal self test (*TST?) runs as
well. The tester must have nothing connected to its output terminals
during a self test.

Examples:
  dielectric probe
  dielectric --port /dev/ttyUSB0 probe --selftest

Exit codes:
  0 - Instrument identified, error register clean
  1 - Instrument reports a latched error or failed self test
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeSelfTest, "selftest", false, "Run the instrument self test")
}

func runProbe(cmd *cobra.Command, args []string) error {
	dev, err := openDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer dev.Close()

	fmt.Printf("Connection: %s\n", connInfo())

	idn, err := dev.Identify()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Identification failed: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("Identity: %s\n", idn)

	code, err := dev.ErrorCode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error register unreadable: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("Error register: %d\n", code)

	failed := code != 0

	if probeSelfTest {
		fmt.Printf("Running self test...\n")
		result, err := dev.SelfTest()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Self test failed to respond: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("Self test: %s\n", result)
		if result != "0" {
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
	return nil
}
