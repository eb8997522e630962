// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package v7x

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// RunState tracks a sequence execution from trigger to results.
type RunState int

// Run lifecycle. Done and Aborted are terminal for one run; the runner
// itself is stateless between runs.
const (
	RunIdle RunState = iota
	RunStarting
	RunRunning
	RunCollecting
	RunDone
	RunAborted
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunStarting:
		return "starting"
	case RunRunning:
		return "running"
	case RunCollecting:
		return "collecting"
	case RunDone:
		return "done"
	case RunAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Runner executes the programmed sequence and gathers the results. The
// instrument times ramp and dwell internally and offers no completion
// push, so the runner polls the run register at a fixed cadence under a
// hard wall-clock ceiling. Anything unexpected mid-run fails safe: the
// runner sends ABORT to bring the hardware to a known state rather than
// keep waiting.
//
// Run blocks for the duration of the sequence; callers wanting a live
// UI run it on a worker goroutine. That goroutine owns the device until
// Run returns.
type Runner struct {
	dev *Device
	seq *Sequencer
	log logrus.FieldLogger

	// PollInterval overrides the run-register polling cadence. Zero
	// means RunPollInterval.
	PollInterval time.Duration
	// Ceiling overrides the wall-clock bound on the whole run. Zero
	// means RunCeiling.
	Ceiling time.Duration
	// Notify, when set, observes every state transition. It is called
	// on the goroutine executing Run.
	Notify func(RunState)
}

// NewRunner builds a runner over an open device and its sequencer.
func NewRunner(dev *Device, seq *Sequencer, log logrus.FieldLogger) *Runner {
	return &Runner{dev: dev, seq: seq, log: ensureLogger(log)}
}

func (r *Runner) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return RunPollInterval
}

func (r *Runner) ceiling() time.Duration {
	if r.Ceiling > 0 {
		return r.Ceiling
	}
	return RunCeiling
}

func (r *Runner) setState(st RunState) {
	if r.Notify != nil {
		r.Notify(st)
	}
}

// abort tries to stop the hardware and reads the error register for
// diagnostic context. Both are best effort; the run is already lost.
func (r *Runner) abort(why string) {
	if code, err := r.dev.ErrorCode(); err == nil && code != 0 {
		r.log.WithFields(logrus.Fields{"code": code, "status": StatusText(code)}).
			Warn("device error at abort")
	}
	if err := r.dev.Abort(); err != nil {
		r.log.WithError(err).Warn("failed to send abort")
	}
	r.log.WithField("reason", why).Warn("run aborted")
}

// Run triggers the sequence and blocks until it completes, fails, or
// ctx is canceled. Cancellation sends ABORT immediately rather than
// waiting out the poll tick. The returned result covers exactly the
// mirrored step count; steps whose records cannot be decoded keep
// their raw text. A nil error means the run reached Done; the result
// may still report a failing test.
func (r *Runner) Run(ctx context.Context) (*SequenceRunResult, error) {
	n := r.seq.Len()
	if n == 0 {
		return nil, ErrSequenceEmpty
	}
	if !r.dev.Ready() {
		return nil, ErrNotOpen
	}

	r.setState(RunStarting)
	r.log.WithField("steps", n).Info("starting sequence")
	if err := r.dev.ClearStatus(); err != nil {
		r.setState(RunAborted)
		return nil, &RunAbortedError{Reason: "failed to clear status", Cause: err}
	}
	time.Sleep(QuerySettle)
	if err := r.dev.Send(CmdRun); err != nil {
		r.abort("failed to start run")
		r.setState(RunAborted)
		return nil, &RunAbortedError{Reason: "failed to start run", Cause: err}
	}

	r.setState(RunRunning)
	started := time.Now()
	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.abort("canceled")
			r.setState(RunAborted)
			return nil, &RunAbortedError{Reason: "canceled", Cause: ctx.Err()}
		case <-ticker.C:
		}
		if time.Since(started) > r.ceiling() {
			r.abort("polling ceiling exceeded")
			r.setState(RunAborted)
			return nil, &RunAbortedError{
				Reason: fmt.Sprintf("no completion within %s", r.ceiling()),
			}
		}
		status, err := r.dev.Query(CmdRunQuery, 0)
		if err != nil {
			r.abort("run status unreadable")
			r.setState(RunAborted)
			return nil, &RunAbortedError{Reason: "run status unreadable", Cause: err}
		}
		if status == "0" {
			break
		}
		if status != "1" {
			r.abort("unexpected run status " + strconv.Quote(status))
			r.setState(RunAborted)
			return nil, &RunAbortedError{
				Reason: fmt.Sprintf("unexpected run status %q", status),
			}
		}
	}
	r.log.WithField("elapsed", time.Since(started).Round(time.Millisecond)).
		Info("sequence completed")

	r.setState(RunCollecting)
	result := r.collect(n)
	r.setState(RunDone)
	return result, nil
}

// collect reads the overall result register and every per-step record.
// Individual read or decode failures degrade that entry, never the
// collection: the caller always gets one StepResult per mirrored step.
func (r *Runner) collect(n int) *SequenceRunResult {
	time.Sleep(QuerySettle)
	res := &SequenceRunResult{}
	overall, err := r.dev.Query(CmdResult, 0)
	if err != nil {
		r.log.WithError(err).Warn("overall result unreadable")
	} else {
		res.StatusRaw = overall
		if code, perr := strconv.Atoi(overall); perr == nil {
			res.StatusCode = code
			res.StatusKnown = true
		} else {
			r.log.WithField("raw", overall).Warn("overall result not an integer")
		}
	}

	for i := 1; i <= n; i++ {
		step := StepResult{StepNumber: i}
		raw, err := r.dev.Query(fmt.Sprintf("%s,%d", CmdStepResult, i), 0)
		if err != nil {
			r.log.WithError(err).WithField("step", i).Warn("step result unreadable")
		} else {
			step.Raw = raw
			parsed, derr := DecodeStepResult(raw)
			if derr != nil {
				r.log.WithFields(logrus.Fields{"step": i, "raw": raw}).
					Warn("step result not decodable, keeping raw text")
			} else {
				step.Parsed = parsed
			}
		}
		res.Steps = append(res.Steps, step)
	}
	return res
}
