// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resultsLimit int

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show recent stored run results",
	Long: `List the most recent step results from the database, newest run
first. Each row is one executed step; a run with three steps stores
three rows sharing a run timestamp.`,
	RunE: runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.Flags().IntVar(&resultsLimit, "limit", 20, "Maximum rows to show")
}

func runResults(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListResults(cmd.Context(), resultsLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No stored results.\n")
		return nil
	}

	fmt.Printf("%-16s  %-20s  %-12s  %4s  %-5s  %-6s  %-14s  %s\n",
		"RUN AT", "SEQUENCE", "DUT", "STEP", "TYPE", "RESULT", "MEASURED", "TERMINATION")
	for _, rec := range records {
		sequence := rec.SequenceName
		if sequence == "" {
			sequence = "(ad hoc)"
		}
		measured := ""
		if rec.Measurement != nil {
			measured = fmt.Sprintf("%g %s", *rec.Measurement, rec.MeasurementUnit)
		}
		fmt.Printf("%-16s  %-20s  %-12s  %4d  %-5s  %-6s  %-14s  %s\n",
			rec.RunAt.Local().Format("2006-01-02 15:04"),
			sequence, rec.DUTSerial, rec.StepNumber, rec.StepType,
			rec.OverallResult, measured, rec.TerminationText)
		if rec.Notes != "" {
			fmt.Printf("%18s%s\n", "", rec.Notes)
		}
	}
	return nil
}
