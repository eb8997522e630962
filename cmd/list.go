// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Benchsafe/dielectric/pkg/v7x"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attachable testers and serial ports",
	Long: `Enumerate local attachment points without opening any of them.

Shows how many V7X HID-to-UART bridges are plugged in (select one with
--hid N) and which serial ports exist (select one with --port). WebSocket
bridges are remote and cannot be enumerated; pass --url directly.

Examples:
  dielectric list
  dielectric --hid 1 probe`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	count := v7x.CountHIDDevices(log)
	fmt.Printf("V7X HID bridges (vendor %d, product %d): %d\n", v7x.VendorID, v7x.ProductID, count)
	for i := 0; i < count; i++ {
		fmt.Printf("  --hid %d\n", i)
	}

	ports, err := v7x.ListSerialPorts()
	if err != nil {
		return fmt.Errorf("enumerating serial ports: %w", err)
	}
	fmt.Printf("\nSerial ports: %d\n", len(ports))
	for _, p := range ports {
		fmt.Printf("  --port %s\n", p)
	}
	return nil
}
