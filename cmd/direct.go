// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Benchsafe/dielectric/pkg/v7x"
)

var directCmd = &cobra.Command{
	Use:   "direct [command]",
	Short: "Send raw commands to the tester",
	Long: `Talk the instrument's line protocol directly, for debugging and for
commands this tool has no wrapper for.

Commands containing '?' read one response line. Everything else is sent
fire-and-forget and the error register is checked afterwards. With a
command argument it executes once and exits; without one it opens an
interactive console ('quit' or Ctrl+D leaves).

Useful commands:
  *IDN?             Get device identification
  *RST              Reset device
  *ERR?             Check for errors
  *CLS              Clear status (error queue)
  *TST?             Run self-test
  RUN?              Check if sequence is running (1=Yes, 0=No)
  RSLT?             Get overall result status (0=Pass)
  STEP?             Get number of configured steps
  NOSEQ             Clear test sequence
  RUN               Start test sequence
  ABORT             Abort test
  MEASRSLT?,OHMS    Get last ohms measurement
  MEASRSLT?,AC      Get last AC measurement
  MEASRSLT?,DC      Get last DC measurement
  MEASRSLT?,IR      Get last IR measurement

Raw commands bypass the sequence mirror: after NOSEQ or ADD sent here,
'dielectric seq show' no longer reflects the device.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDirect,
}

func init() {
	rootCmd.AddCommand(directCmd)
}

func runDirect(cmd *cobra.Command, args []string) error {
	dev, err := openDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer dev.Close()

	if len(args) == 1 {
		executeDirect(dev, args[0])
		return nil
	}

	fmt.Printf("Dielectric - Direct Command Console\n")
	fmt.Printf("Connection: %s\n", connInfo())
	fmt.Printf("Type 'quit' or Ctrl+D to exit\n\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("v7x> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
			break
		}
		executeDirect(dev, line)
	}
	return scanner.Err()
}

// executeDirect runs one raw command and prints the outcome.
func executeDirect(dev *v7x.Device, line string) {
	if strings.Contains(line, "?") {
		resp, err := dev.Query(line, 0)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Println(resp)
		return
	}

	if err := dev.Send(line); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	time.Sleep(v7x.VerifySettle)
	code, err := dev.ErrorCode()
	if err != nil {
		fmt.Printf("sent, but error register unreadable: %v\n", err)
		return
	}
	if code != 0 {
		fmt.Printf("rejected: error %d\n", code)
		return
	}
	fmt.Println("ok")
}
