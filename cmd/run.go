// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Benchsafe/dielectric/pkg/seqstore"
	"github.com/Benchsafe/dielectric/pkg/v7x"
)

var (
	runFile     string
	runOperator string
	runDUT      string
	runSave     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the programmed sequence",
	Long: `Program the tester with the working sequence (or a sequence file) and
execute it, polling until every step completes and collecting per-step
results.

SAFETY: the tester applies high voltage once the run starts. Ctrl+C
sends ABORT and drops the output before exiting.

A sequence file is YAML:

  name: line qualification
  steps:
    - type: ACW
      ground_check: true
      params:
        voltage: "1500"
        max_limit: 5mA
    - type: GND
      params:
        current: "25"

With --save-results (and a database configured) every step outcome is
recorded, tagged with --operator and --dut.

Exit codes:
  0 - Sequence completed, overall PASS
  1 - Sequence completed, overall FAIL
  2 - Connection or programming error
  3 - Run aborted (interrupt, stall or instrument fault)`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "Run a YAML sequence file instead of the session")
	runCmd.Flags().StringVar(&runOperator, "operator", "", "Operator name recorded with results")
	runCmd.Flags().StringVar(&runDUT, "dut", "", "Device-under-test serial number recorded with results")
	runCmd.Flags().BoolVar(&runSave, "save-results", false, "Store step results in the database")
}

// sequenceFile is the YAML shape accepted by --file.
type sequenceFile struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Steps       []v7x.StepConfig `yaml:"steps"`
}

// loadSequenceFile reads and validates a YAML sequence file. File
// parameters overlay the table defaults, and every step must encode
// cleanly before anything touches the device.
func loadSequenceFile(path string) ([]v7x.StepConfig, v7x.SequenceIdentity, error) {
	var identity v7x.SequenceIdentity

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, identity, err
	}
	var file sequenceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, identity, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(file.Steps) == 0 {
		return nil, identity, fmt.Errorf("%s contains no steps", path)
	}

	steps := make([]v7x.StepConfig, 0, len(file.Steps))
	for i, raw := range file.Steps {
		t := v7x.TestType(strings.ToUpper(string(raw.Type)))
		if !t.Valid() {
			return nil, identity, fmt.Errorf("step %d: unknown type %q", i+1, raw.Type)
		}
		merged := v7x.DefaultStep(t)
		merged.Name = raw.Name
		merged.GroundCheck = raw.GroundCheck
		for key, value := range raw.Params {
			if !typeHasParam(t, key) {
				return nil, identity, fmt.Errorf("step %d: %s has no parameter %q", i+1, t, key)
			}
			merged.Params[key] = value
		}
		if _, err := v7x.BuildAddCommand(merged); err != nil {
			return nil, identity, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, merged)
	}

	identity.Name = file.Name
	identity.Description = file.Description
	return steps, identity, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	var (
		steps    []v7x.StepConfig
		identity v7x.SequenceIdentity
	)
	if runFile != "" {
		var err error
		steps, identity, err = loadSequenceFile(runFile)
		if err != nil {
			return err
		}
	} else {
		state, err := loadSession()
		if err != nil {
			return err
		}
		steps = state.Steps
		identity = sessionIdentity(state)
	}
	if len(steps) == 0 {
		return fmt.Errorf("no sequence to run; add steps with 'dielectric seq add' or pass --file")
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

	name := identity.Name
	if name == "" {
		name = "(unsaved)"
	}
	fmt.Printf("Dielectric - Sequence Run\n")
	fmt.Printf("Connection: %s\n", connInfo())
	fmt.Printf("Sequence: %s, %d step(s)\n", name, len(steps))
	for i, step := range steps {
		fmt.Printf("  %d. %s\n", i+1, step.Summary())
	}
	fmt.Printf("\nPress Ctrl+C to abort\n\n")

	runner := v7x.NewRunner(dev, seq, log)
	runner.Notify = func(st v7x.RunState) {
		log.WithField("state", st.String()).Info("run state")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "\nRun interrupted; ABORT sent.\n")
			os.Exit(3)
		}
		var aborted *v7x.RunAbortedError
		if errors.As(err, &aborted) {
			fmt.Fprintf(os.Stderr, "\nRun aborted: %s\n", aborted.Reason)
			os.Exit(3)
		}
		fmt.Fprintf(os.Stderr, "\nRun failed: %v\n", err)
		os.Exit(2)
	}

	printRunReport(res, steps)

	if runSave {
		store, err := openStore(context.Background())
		if err != nil {
			return err
		}
		defer store.Close()
		meta := seqstore.RunMeta{DUTSerial: runDUT, Operator: runOperator}
		if err := store.SaveRunResult(context.Background(), identity, meta, res, steps); err != nil {
			return err
		}
		fmt.Printf("\nResults stored.\n")
	}

	if !res.Passed() {
		os.Exit(1)
	}
	return nil
}

// printRunReport renders the collected results of a completed run.
func printRunReport(res *v7x.SequenceRunResult, steps []v7x.StepConfig) {
	fmt.Printf("\n--- Run report ---\n")
	if res.Passed() {
		fmt.Printf("Overall: PASS\n")
	} else {
		fmt.Printf("Overall: FAIL (%s)\n", strings.Join(res.FailureReasons(), ", "))
	}

	for _, sr := range res.Steps {
		desc := fmt.Sprintf("step %d", sr.StepNumber)
		if sr.StepNumber >= 1 && sr.StepNumber <= len(steps) {
			desc += " " + steps[sr.StepNumber-1].Summary()
		}
		if sr.Parsed == nil {
			fmt.Printf("  %s: undecodable result %q\n", desc, sr.Raw)
			continue
		}
		p := sr.Parsed
		verdict := "PASS"
		if !p.Passed() {
			verdict = "FAIL"
		}
		fmt.Printf("  %s: %s\n", desc, verdict)
		fmt.Printf("      %s, elapsed %ss, level %s, measured %s\n",
			p.TermText(), p.Elapsed, p.Level, p.Measurement)
		if p.ArcPeak != "" {
			fmt.Printf("      arc peak %s\n", p.ArcPeak)
		}
		if p.StatusCode != 0 {
			fmt.Printf("      status: %s\n", v7x.StatusText(p.StatusCode))
		}
	}
}
