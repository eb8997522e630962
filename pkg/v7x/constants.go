// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

// Package v7x drives a Vitrek V7X electrical safety tester (hipot,
// insulation resistance, continuity and ground bond) over its USB
// HID-to-UART bridge.
//
// The instrument speaks a line-oriented SCPI-like text protocol: commands
// are CR-terminated ASCII, responses are LF-terminated. The package
// provides the byte transports (HID bridge, plain serial, websocket
// bridge), the line protocol driver, the step parameter codec, and the
// sequence/run engines that program and execute test sequences.
package v7x

import "time"

// USB identification of the V7X's HID-UART bridge.
const (
	VendorID  = 4292  // Vitrek
	ProductID = 34869 // V7X
)

// UART parameters of the bridge. The link is fixed at 115200 8N1 with
// hardware flow control; these exist so transports that can reconfigure
// (plain serial) apply the same settings the bridge ships with.
const (
	DefaultBaudRate = 115200
	DataBits        = 8
)

// Protocol timing. The instrument has no data-ready signalling and no
// length prefixes, so reads poll with a short transport timeout while an
// overall deadline bounds the operation.
const (
	// DefaultReadTimeout is the transport read timeout between operations.
	DefaultReadTimeout = 100 * time.Millisecond
	// DefaultWriteTimeout bounds a single transport write.
	DefaultWriteTimeout = 1000 * time.Millisecond
	// ResponseTimeout is the default overall deadline for one response line.
	ResponseTimeout = 3000 * time.Millisecond
	// PollReadTimeout is the short per-read timeout used while scanning
	// for a line terminator.
	PollReadTimeout = 50 * time.Millisecond
	// QuerySettle is the pause between sending a query and reading its
	// response; the instrument needs processing time before its output
	// buffer fills.
	QuerySettle = 100 * time.Millisecond
	// VerifySettle is the pause before reading the error register back
	// after a sequence-altering command (ADD, NOSEQ).
	VerifySettle = 200 * time.Millisecond
	// RunPollInterval is the cadence of RUN? polling during execution.
	RunPollInterval = 500 * time.Millisecond
	// RunCeiling bounds total RUN? polling; a sequence still running
	// after this long is aborted.
	RunCeiling = time.Hour
)

// readIdleSleep spaces out empty polling reads so a quiet line does not
// spin the CPU.
const readIdleSleep = 10 * time.Millisecond

// Command vocabulary. Fixed for the V7X family; commands ending in '?'
// expect one response line, the rest are fire-and-forget with status
// readable via CmdError.
const (
	CmdIdentify   = "*IDN?"
	CmdReset      = "*RST"
	CmdError      = "*ERR?"
	CmdClear      = "*CLS"
	CmdSelfTest   = "*TST?"
	CmdNoSeq      = "NOSEQ"
	CmdAdd        = "ADD"
	CmdRun        = "RUN"
	CmdRunQuery   = "RUN?"
	CmdResult     = "RSLT?"
	CmdStepCount  = "STEP?"
	CmdStepResult = "STEPRSLT?"
	CmdAbort      = "ABORT"
)

// Line framing bytes.
const (
	cr = '\r'
	lf = '\n'
)

// TestType identifies one of the instrument's test step kinds.
type TestType string

// Test step kinds accepted by ADD.
const (
	TestACW  TestType = "ACW"  // AC withstand voltage (hipot)
	TestDCW  TestType = "DCW"  // DC withstand voltage (hipot)
	TestIR   TestType = "IR"   // insulation resistance
	TestCONT TestType = "CONT" // continuity
	TestGND  TestType = "GND"  // ground bond
)

// TestTypes lists every valid step kind in menu order.
var TestTypes = []TestType{TestACW, TestDCW, TestIR, TestCONT, TestGND}

// Valid reports whether t is one of the fixed step kinds.
func (t TestType) Valid() bool {
	switch t {
	case TestACW, TestDCW, TestIR, TestCONT, TestGND:
		return true
	}
	return false
}

// Description returns the long name of the test kind.
func (t TestType) Description() string {
	switch t {
	case TestACW:
		return "AC Withstand Voltage Test"
	case TestDCW:
		return "DC Withstand Voltage Test"
	case TestIR:
		return "Insulation Resistance Test"
	case TestCONT:
		return "Continuity Test"
	case TestGND:
		return "Ground Bond Test"
	default:
		return "Unknown Test"
	}
}

// statusFlag is one bit of the RSLT?/STEPRSLT? status bitmask.
type statusFlag struct {
	Bit  int
	Desc string
}

// statusFlags maps each status bit to its failure description, in
// ascending bit order. A status code of 0 means pass. Source: V7X manual.
var statusFlags = []statusFlag{
	{1, "V7X Internal Fault"},
	{2, "Over Voltage Output"},
	{4, "Line Too Low"},
	{8, "DUT Breakdown Detected"},
	{16, "HOLD Step Timeout"},
	{32, "User Aborted Sequence"},
	{64, "GB Over-Compliance"},
	{128, "Arc Detected"},
	{256, "Measurement < Min Limit"},
	{512, "Measurement > Max Limit"},
	{1024, "IR Not Steady/Decreasing"},
	{2048, "Interlock Failure"},
	{4096, "Switch Matrix Error"},
	{8192, "V7X Overheated"},
	{16384, "Unstable Load/Control Error"},
	{32768, "GB Wiring Error"},
	{65536, "Voltage Error"},
}

// terminationStates maps the first STEPRSLT? field to the reason a step
// stopped.
var terminationStates = map[string]string{
	"0": "Not Executed",
	"1": "Terminated Before Start",
	"2": "Terminated during Ramp",
	"3": "Terminated during Dwell",
	"4": "Completed Normally",
	"?": "Unknown/In Process",
}
