// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Benchsafe/dielectric/pkg/v7x"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive TUI for running the working sequence",
	Long: `Run the working sequence from an interactive terminal UI.

The session sequence is programmed into the tester at startup, then the
monitor waits for a trigger. Results appear per step as soon as the
instrument reports them, and the sequence can be re-run without leaving
the screen.

Keys:
  r        Start a run
  a        Abort the run in progress (sends ABORT to the tester)
  q        Quit (aborts first if a run is in progress)

SAFETY: high voltage is present at the output terminals while a run is
in progress. Keep clear of the DUT until the monitor shows the run has
finished or aborted.`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	state, err := loadSession()
	if err != nil {
		return err
	}
	if state.Empty() {
		return fmt.Errorf("no sequence to run; add steps with 'dielectric seq add' first")
	}

	dev, err := openDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer dev.Close()

	seq := v7x.NewSequencer(dev, log)
	if err := seq.Restore(state.Steps, sessionIdentity(state)); err != nil {
		fmt.Fprintf(os.Stderr, "Programming sequence failed: %v\n", err)
		os.Exit(2)
	}

	m := initialMonitorModel(dev, seq, connInfo())

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const monitorMaxLogEntries = 100

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// eventLogEntry is one line in the monitor's event log
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for informational entries
}

// monitorModel is the Bubble Tea model for the run monitor
type monitorModel struct {
	// Instrument (owned by the run goroutine while a run is active)
	dev      *v7x.Device
	seq      *v7x.Sequencer
	connInfo string

	// Sequence under test
	identity v7x.SequenceIdentity
	steps    []v7x.StepConfig

	// Run state
	running   bool
	runState  v7x.RunState
	runStart  time.Time
	result    *v7x.SequenceRunResult
	cancelRun context.CancelFunc
	stateCh   chan v7x.RunState

	// UI state
	spinner       spinner.Model
	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type runStateMsg v7x.RunState

type runDoneMsg struct {
	result *v7x.SequenceRunResult
	err    error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(dev *v7x.Device, seq *v7x.Sequencer, connInfo string) monitorModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return monitorModel{
		dev:      dev,
		seq:      seq,
		connInfo: connInfo,
		identity: seq.Identity(),
		steps:    seq.Steps(),
		runState: v7x.RunIdle,
		// Buffered so Notify never blocks the run goroutine between
		// Update cycles.
		stateCh:       make(chan v7x.RunState, 8),
		spinner:       sp,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: monitorMaxLogEntries,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForRunState(m.stateCh))
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case runStateMsg:
		m.runState = v7x.RunState(msg)
		m.addLogEntry(fmt.Sprintf("Run state: %s", m.runState), false)
		return m, waitForRunState(m.stateCh)

	case runDoneMsg:
		m.running = false
		m.cancelRun = nil
		if msg.err != nil {
			var aborted *v7x.RunAbortedError
			if errors.As(msg.err, &aborted) {
				m.addLogEntry(fmt.Sprintf("Run aborted: %s", aborted.Reason), true)
			} else {
				m.addLogEntry(fmt.Sprintf("Run failed: %v", msg.err), true)
			}
			return m, nil
		}
		m.result = msg.result
		if m.result.Passed() {
			m.addLogEntry(fmt.Sprintf("Run complete in %s: PASS",
				time.Since(m.runStart).Round(time.Millisecond)), false)
		} else {
			m.addLogEntry(fmt.Sprintf("Run complete: FAIL (%s)",
				strings.Join(m.result.FailureReasons(), ", ")), true)
		}
		return m, nil
	}

	return m, nil
}

func (m *monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.running && m.cancelRun != nil {
			m.cancelRun()
		}
		m.quitting = true
		return m, tea.Quit

	case "r":
		if m.running {
			m.addLogEntry("Run already in progress", true)
			return m, nil
		}
		m.result = nil
		m.running = true
		m.runStart = time.Now()
		m.addLogEntry(fmt.Sprintf("Starting %d-step sequence", len(m.steps)), false)
		return m, m.startRun()

	case "a":
		if !m.running || m.cancelRun == nil {
			return m, nil
		}
		m.cancelRun()
		m.addLogEntry("Abort requested", true)
		return m, nil
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	passStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")).
		Bold(true)

	failStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	helpText := "r=run q=quit"
	if m.running {
		helpText = "a=abort q=quit"
	}
	s.WriteString(titleStyle.Render("V7X RUN MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", m.connInfo, helpText)))
	s.WriteString("\n\n")

	// Sequence panel
	s.WriteString(m.renderSequencePanel(labelStyle, valueStyle, passStyle, failStyle, warningStyle, headerStyle, boxStyle))
	s.WriteString("\n\n")

	// Status bar
	s.WriteString(m.renderStatusBar(labelStyle, valueStyle, passStyle, failStyle, warningStyle, boxStyle))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(labelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderSequencePanel(labelStyle, valueStyle, passStyle, failStyle, warningStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder

	name := m.identity.Name
	if name == "" {
		name = "(unsaved)"
	}
	s.WriteString(fmt.Sprintf("%s %s\n\n", labelStyle.Render("Sequence:"), valueStyle.Render(name)))

	for i, step := range m.steps {
		verdict := "      "
		if m.result != nil && i < len(m.result.Steps) {
			sr := m.result.Steps[i]
			switch {
			case sr.Parsed == nil:
				verdict = warningStyle.Render("  ??  ")
			case sr.Parsed.Passed():
				verdict = passStyle.Render(" PASS ")
			default:
				verdict = failStyle.Render(" FAIL ")
			}
		}
		s.WriteString(fmt.Sprintf("%s %2d. %s", verdict, i+1, step.Summary()))
		if step.Name != "" {
			s.WriteString(headerStyle.Render(fmt.Sprintf("  (%s)", step.Name)))
		}
		s.WriteString("\n")

		if m.result != nil && i < len(m.result.Steps) {
			s.WriteString(m.renderStepDetail(m.result.Steps[i], headerStyle, warningStyle))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

func (m monitorModel) renderStepDetail(sr v7x.StepResult, headerStyle, warningStyle lipgloss.Style) string {
	p := sr.Parsed
	if p == nil {
		if sr.Raw == "" {
			return headerStyle.Render("           (no result record)") + "\n"
		}
		return warningStyle.Render(fmt.Sprintf("           undecodable: %q", sr.Raw)) + "\n"
	}

	detail := fmt.Sprintf("           %s, %ss at %s, measured %s",
		p.TermText(), p.Elapsed, p.Level, p.Measurement)
	if p.ArcPeak != "" {
		detail += fmt.Sprintf(", arc peak %s", p.ArcPeak)
	}
	out := headerStyle.Render(detail) + "\n"
	if p.StatusCode != 0 {
		out += warningStyle.Render(fmt.Sprintf("           %s", v7x.StatusText(p.StatusCode))) + "\n"
	}
	return out
}

func (m monitorModel) renderStatusBar(labelStyle, valueStyle, passStyle, failStyle, warningStyle, boxStyle lipgloss.Style) string {
	var content string

	switch {
	case m.running:
		content = fmt.Sprintf("%s %s %s  %s %s",
			m.spinner.View(),
			labelStyle.Render("State:"), warningStyle.Render(m.runState.String()),
			labelStyle.Render("Elapsed:"), valueStyle.Render(time.Since(m.runStart).Round(time.Second).String()))

	case m.result != nil:
		verdict := passStyle.Render("PASS")
		if !m.result.Passed() {
			verdict = failStyle.Render("FAIL: " + strings.Join(m.result.FailureReasons(), ", "))
		}
		content = fmt.Sprintf("%s %s", labelStyle.Render("Overall:"), verdict)

	default:
		content = fmt.Sprintf("%s %s  %s",
			labelStyle.Render("Steps:"), valueStyle.Render(fmt.Sprintf("%d", len(m.steps))),
			valueStyle.Render("press r to start"))
	}

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(labelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// waitForRunState relays runner state transitions into the update loop.
// It re-arms itself from Update after each delivery.
func waitForRunState(ch <-chan v7x.RunState) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return nil
		}
		return runStateMsg(st)
	}
}

// startRun launches the sequence on a worker goroutine. The goroutine
// owns the device until the run completes or aborts.
func (m *monitorModel) startRun() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelRun = cancel

	runner := v7x.NewRunner(m.dev, m.seq, log)
	ch := m.stateCh
	runner.Notify = func(st v7x.RunState) { ch <- st }

	return func() tea.Msg {
		res, err := runner.Run(ctx)
		return runDoneMsg{result: res, err: err}
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}
