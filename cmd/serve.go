// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Benchsafe Instruments

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Benchsafe/dielectric/pkg/seqstore"
	"github.com/Benchsafe/dielectric/pkg/session"
	"github.com/Benchsafe/dielectric/pkg/v7x"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "REST bridge for fixture automation",
	Long: `Expose the tester over HTTP so fixture controllers and test executives
drive it without speaking the instrument protocol.

The instrument is a single shared resource: requests that touch it are
serialized, and a run in progress holds the device until it completes.
Cancelling an in-flight /api/run request (closing the connection) sends
ABORT to the tester.

Endpoints:
  GET    /healthz              Liveness and device state
  GET    /metrics              Prometheus metrics
  GET    /api/idn              Instrument identification
  GET    /api/sequence         Working sequence
  POST   /api/sequence/steps   Append a step (JSON StepConfig)
  DELETE /api/sequence         Clear the sequence
  POST   /api/run              Execute the sequence, return results
  GET    /api/results          Recent stored results (database required)

Listens on serve_addr from the configuration (default :8091).`,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides serve_addr)")
	rootCmd.AddCommand(serveCmd)
}

// Bridge metrics.
var (
	metricCommands = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dielectric_commands_total",
		Help: "Instrument commands issued through the REST bridge",
	})
	metricRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dielectric_runs_total",
			Help: "Sequence executions by outcome",
		},
		[]string{"outcome"},
	)
	metricRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dielectric_run_duration_seconds",
		Help:    "Wall-clock duration of sequence executions",
		Buckets: prometheus.DefBuckets,
	})
)

// restServer owns the device for the lifetime of the bridge. mu
// serializes all instrument access; the transport cannot interleave
// conversations.
type restServer struct {
	mu    sync.Mutex
	dev   *v7x.Device
	seq   *v7x.Sequencer
	store *seqstore.Store // nil without a database
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.ServeAddr = serveAddr
	}

	dev, err := openDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer dev.Close()

	seq := v7x.NewSequencer(dev, log)
	if state, err := loadSession(); err != nil {
		log.WithError(err).Warn("session unreadable, starting with an empty sequence")
	} else if !state.Empty() {
		if err := seq.Restore(state.Steps, sessionIdentity(state)); err != nil {
			fmt.Fprintf(os.Stderr, "Programming session sequence failed: %v\n", err)
			os.Exit(2)
		}
		log.WithField("steps", seq.Len()).Info("session sequence programmed")
	}

	var store *seqstore.Store
	if cfg.DatabaseDSN != "" {
		store, err = openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
	}

	prometheus.MustRegister(metricCommands, metricRuns, metricRunDuration)

	s := &restServer{dev: dev, seq: seq, store: store}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/api/idn", s.handleIdentify)
	e.GET("/api/sequence", s.handleGetSequence)
	e.POST("/api/sequence/steps", s.handleAddStep)
	e.DELETE("/api/sequence", s.handleClearSequence)
	e.POST("/api/run", s.handleRun)
	e.GET("/api/results", s.handleResults)

	log.WithField("addr", cfg.ServeAddr).Info("REST bridge listening")
	return e.Start(cfg.ServeAddr)
}

// persistSession mirrors the bridge's sequence into the session file so
// CLI invocations on the same bench stay consistent with it.
func (s *restServer) persistSession() {
	if err := saveSession(s.seq.Steps(), s.seq.Identity()); err != nil {
		log.WithError(err).Warn("session not saved")
	}
}

func (s *restServer) handleHealth(c echo.Context) error {
	// TryLock so a long run reports busy instead of blocking the probe.
	device := "busy"
	if s.mu.TryLock() {
		device = s.dev.State().String()
		s.mu.Unlock()
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"device": device,
	})
}

func (s *restServer) handleIdentify(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metricCommands.Inc()
	idn, err := s.dev.Identify()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"identity": idn})
}

type sequenceView struct {
	Identity v7x.SequenceIdentity `json:"identity"`
	Steps    []stepView           `json:"steps"`
}

type stepView struct {
	Number      int               `json:"number"`
	Type        string            `json:"type"`
	Name        string            `json:"name,omitempty"`
	Summary     string            `json:"summary"`
	Params      map[string]string `json:"params"`
	GroundCheck bool              `json:"ground_check,omitempty"`
}

func (s *restServer) handleGetSequence(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps := s.seq.Steps()
	view := sequenceView{Identity: s.seq.Identity(), Steps: make([]stepView, len(steps))}
	for i, step := range steps {
		view.Steps[i] = stepView{
			Number:      i + 1,
			Type:        string(step.Type),
			Name:        step.Name,
			Summary:     step.Summary(),
			Params:      step.Params,
			GroundCheck: step.GroundCheck,
		}
	}
	return c.JSON(http.StatusOK, view)
}

func (s *restServer) handleAddStep(c echo.Context) error {
	var req v7x.StepConfig
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	t := v7x.TestType(strings.ToUpper(string(req.Type)))
	if !t.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown test type %q", req.Type))
	}
	merged := v7x.DefaultStep(t)
	merged.Name = req.Name
	merged.GroundCheck = req.GroundCheck
	for key, value := range req.Params {
		if !typeHasParam(t, key) {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s has no parameter %q", t, key))
		}
		merged.Params[key] = value
	}
	if _, err := v7x.BuildAddCommand(merged); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metricCommands.Inc()
	if err := s.seq.AddStep(merged); err != nil {
		var devErr *v7x.DeviceError
		if errors.As(err, &devErr) {
			// Instrument rejected the parameters.
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	s.persistSession()

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"step":    s.seq.Len(),
		"summary": merged.Summary(),
	})
}

func (s *restServer) handleClearSequence(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metricCommands.Inc()
	if err := s.seq.Clear(); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if err := session.Clear(cfg.SessionPath); err != nil {
		log.WithError(err).Warn("session not cleared")
	}
	return c.NoContent(http.StatusNoContent)
}

type runRequest struct {
	Operator    string `json:"operator"`
	DUTSerial   string `json:"dut_serial"`
	SaveResults bool   `json:"save_results"`
}

type runStepResultView struct {
	Number      int      `json:"number"`
	Type        string   `json:"type,omitempty"`
	Result      string   `json:"result,omitempty"`
	Termination string   `json:"termination,omitempty"`
	Elapsed     string   `json:"elapsed,omitempty"`
	Level       string   `json:"level,omitempty"`
	Measurement string   `json:"measurement,omitempty"`
	ArcPeak     string   `json:"arc_peak,omitempty"`
	Status      []string `json:"status,omitempty"`
	Raw         string   `json:"raw"`
}

type runResponse struct {
	Overall       string              `json:"overall"`
	Reasons       []string            `json:"reasons,omitempty"`
	Steps         []runStepResultView `json:"steps"`
	ResultsStored bool                `json:"results_stored"`
}

func (s *restServer) handleRun(c echo.Context) error {
	var req runRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq.Len() == 0 {
		return echo.NewHTTPError(http.StatusConflict, "no sequence programmed")
	}

	runner := v7x.NewRunner(s.dev, s.seq, log)
	start := time.Now()
	res, err := runner.Run(c.Request().Context())
	metricRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var aborted *v7x.RunAbortedError
		if errors.As(err, &aborted) {
			metricRuns.WithLabelValues("aborted").Inc()
		} else {
			metricRuns.WithLabelValues("error").Inc()
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	outcome := "fail"
	if res.Passed() {
		outcome = "pass"
	}
	metricRuns.WithLabelValues(outcome).Inc()

	steps := s.seq.Steps()
	stored := false
	if req.SaveResults && s.store != nil {
		meta := seqstore.RunMeta{DUTSerial: req.DUTSerial, Operator: req.Operator}
		// Background context: the client may already be gone, the record
		// still matters.
		if err := s.store.SaveRunResult(context.Background(), s.seq.Identity(), meta, res, steps); err != nil {
			log.WithError(err).Warn("results not stored")
		} else {
			stored = true
		}
	}

	return c.JSON(http.StatusOK, buildRunResponse(res, steps, stored))
}

func buildRunResponse(res *v7x.SequenceRunResult, steps []v7x.StepConfig, stored bool) runResponse {
	resp := runResponse{
		Overall:       "FAIL",
		Steps:         make([]runStepResultView, 0, len(res.Steps)),
		ResultsStored: stored,
	}
	if res.Passed() {
		resp.Overall = "PASS"
	} else {
		resp.Reasons = res.FailureReasons()
	}

	for _, sr := range res.Steps {
		view := runStepResultView{Number: sr.StepNumber, Raw: sr.Raw}
		if sr.StepNumber >= 1 && sr.StepNumber <= len(steps) {
			view.Type = string(steps[sr.StepNumber-1].Type)
		}
		if p := sr.Parsed; p != nil {
			view.Result = "FAIL"
			if p.Passed() {
				view.Result = "PASS"
			}
			view.Termination = p.TermText()
			view.Elapsed = p.Elapsed
			view.Level = p.Level
			view.Measurement = p.Measurement
			view.ArcPeak = p.ArcPeak
			if p.StatusCode != 0 {
				view.Status = v7x.DecodeStatusFlags(p.StatusCode)
			}
		}
		resp.Steps = append(resp.Steps, view)
	}
	return resp
}

type resultView struct {
	RunAt           time.Time `json:"run_at"`
	Sequence        string    `json:"sequence,omitempty"`
	DUTSerial       string    `json:"dut_serial,omitempty"`
	Operator        string    `json:"operator,omitempty"`
	Overall         string    `json:"overall"`
	Step            int       `json:"step"`
	Type            string    `json:"type"`
	Termination     string    `json:"termination,omitempty"`
	Measurement     *float64  `json:"measurement,omitempty"`
	MeasurementUnit string    `json:"measurement_unit,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

func (s *restServer) handleResults(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no database configured")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("bad limit %q", raw))
		}
	}

	records, err := s.store.ListResults(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	views := make([]resultView, len(records))
	for i, rec := range records {
		views[i] = resultView{
			RunAt:           rec.RunAt,
			Sequence:        rec.SequenceName,
			DUTSerial:       rec.DUTSerial,
			Operator:        rec.Operator,
			Overall:         rec.OverallResult,
			Step:            rec.StepNumber,
			Type:            rec.StepType,
			Termination:     rec.TerminationText,
			Measurement:     rec.Measurement,
			MeasurementUnit: rec.MeasurementUnit,
			Notes:           rec.Notes,
		}
	}
	return c.JSON(http.StatusOK, views)
}
