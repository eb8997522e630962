// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Benchsafe/dielectric/pkg/session"
	"github.com/Benchsafe/dielectric/pkg/v7x"
)

var seqCmd = &cobra.Command{
	Use:   "seq",
	Short: "Build and manage the test sequence",
	Long: `Build the test sequence step by step, inspect it, and store it.

The working sequence lives in a session file (see --session) mirroring
what the tester's sequence memory holds. Mutating commands re-program
the device from the mirror first, so the two never drift apart even if
the tester was power-cycled between invocations.

With a database configured, sequences can be saved under a name and
loaded back on any bench.`,
}

// Flags for 'seq add'. Which of them apply depends on the step type;
// an inapplicable flag is an error, not silently dropped.
var (
	addName    string
	addVoltage string
	addRamp    string
	addDwell   string
	addMin     string
	addMax     string
	addCurrent string
	addFreq    string
	addGround  bool
)

var seqAddCmd = &cobra.Command{
	Use:   "add <type>",
	Short: "Append a test step to the sequence",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeqAdd,
}

var seqShowVerbose bool
var seqShowDevice bool

var seqShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the working sequence",
	Long: `Print the working sequence from the session mirror.

With --device the tester is opened and its step count (STEP?) compared
against the mirror, catching drift from raw commands or another tool.`,
	RunE: runSeqShow,
}

var seqClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the sequence on the device and in the session",
	Long: `Issue NOSEQ and, once the tester confirms its sequence memory is
empty, discard the session mirror. A failed device clear leaves the
mirror untouched.`,
	RunE: runSeqClear,
}

var (
	seqSaveName string
	seqSaveDesc string
)

var seqSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store the working sequence in the database",
	RunE:  runSeqSave,
}

var seqLoadCmd = &cobra.Command{
	Use:   "load <id>",
	Short: "Load a stored sequence and program the tester with it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeqLoad,
}

var seqSavedCmd = &cobra.Command{
	Use:   "saved",
	Short: "List sequences stored in the database",
	RunE:  runSeqSaved,
}

var seqDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored sequence",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeqDelete,
}

func init() {
	rootCmd.AddCommand(seqCmd)
	seqCmd.AddCommand(seqAddCmd, seqShowCmd, seqClearCmd, seqSaveCmd, seqLoadCmd, seqSavedCmd, seqDeleteCmd)

	seqAddCmd.Long = `Append one test step. The step is programmed into the tester (ADD) and
only recorded in the session once the instrument accepts it, so a
rejected step never haunts the mirror.

Unset parameters take the defaults listed below. Current limits accept
unit suffixes: 10mA, 50uA, 0.01A, or plain amps.
` + stepTypeHelp() + `
Examples:
  dielectric seq add acw --voltage 1500 --max 5mA --ground
  dielectric seq add ir --voltage 500 --min 1M
  dielectric seq add gnd --current 25 --freq 50`

	seqAddCmd.Flags().StringVar(&addName, "name", "", "Optional step label")
	seqAddCmd.Flags().StringVar(&addVoltage, "voltage", "", "Test voltage in volts")
	seqAddCmd.Flags().StringVar(&addRamp, "ramp", "", "Ramp time in seconds")
	seqAddCmd.Flags().StringVar(&addDwell, "dwell", "", "Dwell time in seconds")
	seqAddCmd.Flags().StringVar(&addMin, "min", "", "Minimum limit (current or resistance)")
	seqAddCmd.Flags().StringVar(&addMax, "max", "", "Maximum limit (current or resistance)")
	seqAddCmd.Flags().StringVar(&addCurrent, "current", "", "Test current in amps")
	seqAddCmd.Flags().StringVar(&addFreq, "freq", "", "Test frequency in hertz")
	seqAddCmd.Flags().BoolVar(&addGround, "ground", false, "Verify the safety ground during the step (ACW/DCW)")

	seqShowCmd.Flags().BoolVarP(&seqShowVerbose, "verbose", "v", false, "Show every parameter of every step")
	seqShowCmd.Flags().BoolVar(&seqShowDevice, "device", false, "Cross-check the tester's step count")

	seqSaveCmd.Flags().StringVar(&seqSaveName, "name", "", "Sequence name (required, unique)")
	seqSaveCmd.Flags().StringVar(&seqSaveDesc, "desc", "", "Sequence description")
	seqSaveCmd.MarkFlagRequired("name")
}

// stepTypeHelp renders the parameter table of every step type for the
// add command's help text.
func stepTypeHelp() string {
	var b strings.Builder
	for _, t := range v7x.TestTypes {
		fmt.Fprintf(&b, "\n%s - %s\n", t, t.Description())
		for _, def := range v7x.ParamDefs(t) {
			if def.Kind == v7x.ParamGroundFlag {
				fmt.Fprintf(&b, "  --ground     %s\n", def.Hint)
				continue
			}
			line := fmt.Sprintf("  --%-10s %s: %s", flagForParam(def.Key), def.Label, def.Hint)
			if def.Default != "" {
				line += fmt.Sprintf(" (default %s)", def.Default)
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// flagForParam maps a parameter table key to its add-command flag.
func flagForParam(key string) string {
	switch key {
	case "ramp_time":
		return "ramp"
	case "dwell_time":
		return "dwell"
	case "min_limit":
		return "min"
	case "max_limit":
		return "max"
	default:
		return key
	}
}

// typeHasParam reports whether the step type's table carries the key.
func typeHasParam(t v7x.TestType, key string) bool {
	for _, def := range v7x.ParamDefs(t) {
		if def.Key == key {
			return true
		}
	}
	return false
}

func runSeqAdd(cmd *cobra.Command, args []string) error {
	stepType := v7x.TestType(strings.ToUpper(args[0]))
	if !stepType.Valid() {
		names := make([]string, len(v7x.TestTypes))
		for i, t := range v7x.TestTypes {
			names[i] = string(t)
		}
		return fmt.Errorf("unknown test type %q (choose from %s)", args[0], strings.Join(names, ", "))
	}

	step := v7x.DefaultStep(stepType)
	step.Name = addName

	paramFlags := []struct {
		flag  string
		key   string
		value *string
	}{
		{"voltage", "voltage", &addVoltage},
		{"ramp", "ramp_time", &addRamp},
		{"dwell", "dwell_time", &addDwell},
		{"min", "min_limit", &addMin},
		{"max", "max_limit", &addMax},
		{"current", "current", &addCurrent},
		{"freq", "freq", &addFreq},
	}
	for _, pf := range paramFlags {
		if !cmd.Flags().Changed(pf.flag) {
			continue
		}
		if !typeHasParam(stepType, pf.key) {
			return fmt.Errorf("--%s does not apply to %s steps", pf.flag, stepType)
		}
		step.Params[pf.key] = *pf.value
	}
	if addGround {
		if !typeHasParam(stepType, "ground_check") {
			return fmt.Errorf("--ground only applies to ACW and DCW steps")
		}
		step.GroundCheck = true
	}

	// Validate the encoding before touching device or session, so a bad
	// current limit fails fast.
	if _, err := v7x.BuildAddCommand(step); err != nil {
		return err
	}

	state, err := loadSession()
	if err != nil {
		return err
	}

	dev, err := openDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer dev.Close()

	seq := v7x.NewSequencer(dev, log)
	if err := seq.Restore(state.Steps, sessionIdentity(state)); err != nil {
		fmt.Fprintf(os.Stderr, "Re-programming existing sequence failed: %v\n", err)
		os.Exit(2)
	}
	if err := seq.AddStep(step); err != nil {
		fmt.Fprintf(os.Stderr, "Step rejected: %v\n", err)
		os.Exit(1)
	}

	if err := saveSession(seq.Steps(), seq.Identity()); err != nil {
		return fmt.Errorf("step programmed but session not saved: %w", err)
	}

	fmt.Printf("Step %d added: %s\n", seq.Len(), step.Summary())
	return nil
}

func runSeqShow(cmd *cobra.Command, args []string) error {
	state, err := loadSession()
	if err != nil {
		return err
	}

	id := sessionIdentity(state)
	switch {
	case id.Name != "" && id.ID != "":
		fmt.Printf("Sequence: %s (%s)\n", id.Name, id.ID)
	case id.Name != "":
		fmt.Printf("Sequence: %s\n", id.Name)
	default:
		fmt.Printf("Sequence: (unsaved)\n")
	}
	if id.Description != "" {
		fmt.Printf("Description: %s\n", id.Description)
	}

	if len(state.Steps) == 0 {
		fmt.Printf("No steps. Add some with 'dielectric seq add'.\n")
		return nil
	}

	for i, step := range state.Steps {
		line := step.Summary()
		if step.Name != "" {
			line += "  (" + step.Name + ")"
		}
		fmt.Printf("  %d. %s\n", i+1, line)
		if seqShowVerbose {
			for _, def := range v7x.ParamDefs(step.Type) {
				if def.Kind == v7x.ParamGroundFlag {
					fmt.Printf("       %s: %v\n", def.Label, step.GroundCheck)
					continue
				}
				value := step.Params[def.Key]
				if value == "" {
					value = "(none)"
				}
				fmt.Printf("       %s: %s\n", def.Label, value)
			}
		}
	}

	if seqShowDevice {
		dev, err := openDevice()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
		defer dev.Close()

		count, err := v7x.NewSequencer(dev, log).DeviceStepCount()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Step count unreadable: %v\n", err)
			os.Exit(2)
		}
		if count != len(state.Steps) {
			fmt.Printf("\nWARNING: tester reports %d step(s), session has %d.\n", count, len(state.Steps))
			fmt.Printf("Re-program with 'dielectric seq load' or rebuild the sequence.\n")
			os.Exit(1)
		}
		fmt.Printf("\nTester confirms %d step(s).\n", count)
	}
	return nil
}

func runSeqClear(cmd *cobra.Command, args []string) error {
	dev, err := openDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer dev.Close()

	if err := v7x.NewSequencer(dev, log).Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Device clear failed, session kept: %v\n", err)
		os.Exit(2)
	}
	if err := session.Clear(cfg.SessionPath); err != nil {
		return err
	}
	fmt.Printf("Sequence cleared.\n")
	return nil
}

func runSeqSave(cmd *cobra.Command, args []string) error {
	state, err := loadSession()
	if err != nil {
		return err
	}
	if state.Empty() {
		return fmt.Errorf("no steps to save; add some with 'dielectric seq add' first")
	}

	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	identity, err := store.SaveSequence(cmd.Context(), seqSaveName, seqSaveDesc, state.Steps)
	if err != nil {
		return err
	}
	if err := saveSession(state.Steps, identity); err != nil {
		return fmt.Errorf("sequence stored but session not updated: %w", err)
	}

	fmt.Printf("Saved %q (%s), %d step(s).\n", identity.Name, identity.ID, len(state.Steps))
	return nil
}

func runSeqLoad(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	identity, steps, err := store.LoadSequence(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	dev, err := openDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer dev.Close()

	seq := v7x.NewSequencer(dev, log)
	if err := seq.Restore(steps, identity); err != nil {
		fmt.Fprintf(os.Stderr, "Programming sequence failed: %v\n", err)
		os.Exit(2)
	}
	if err := saveSession(seq.Steps(), seq.Identity()); err != nil {
		return fmt.Errorf("sequence programmed but session not saved: %w", err)
	}

	fmt.Printf("Loaded %q: %d step(s) programmed.\n", identity.Name, len(steps))
	return nil
}

func runSeqSaved(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.ListSequences(cmd.Context())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("No stored sequences.\n")
		return nil
	}

	fmt.Printf("%-36s  %-24s  %5s  %-16s  %s\n", "ID", "NAME", "STEPS", "CREATED", "DESCRIPTION")
	for _, info := range infos {
		fmt.Printf("%-36s  %-24s  %5d  %-16s  %s\n",
			info.ID, info.Name, info.StepCount,
			info.CreatedAt.Local().Format("2006-01-02 15:04"), info.Description)
	}
	return nil
}

func runSeqDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteSequence(cmd.Context(), args[0]); err != nil {
		return err
	}

	// The working sequence stays usable; it just loses its link to the
	// deleted record.
	if state, err := loadSession(); err == nil && state.Identity != nil && state.Identity.ID == args[0] {
		if err := saveSession(state.Steps, v7x.SequenceIdentity{}); err != nil {
			return err
		}
	}

	fmt.Printf("Deleted %s.\n", args[0])
	return nil
}
