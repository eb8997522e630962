// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package seqstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Benchsafe/dielectric/pkg/v7x"
)

// RunMeta carries operator-entered context for a stored run.
type RunMeta struct {
	DUTSerial string
	Operator  string
}

// ResultRecord is one stored per-step result row.
type ResultRecord struct {
	ID              string
	SequenceID      string
	SequenceName    string
	RunAt           time.Time
	DUTSerial       string
	Operator        string
	OverallResult   string
	StepNumber      int
	StepType        string
	TerminationText string
	ElapsedSeconds  *float64
	StatusCode      *int
	StatusText      string
	TestLevel       *float64
	TestLevelUnit   string
	Measurement     *float64
	MeasurementUnit string
	ArcCurrentPeak  *float64
	Notes           string
}

// resultRow is the flattened insert image of one step's outcome.
// Pointer fields become SQL NULL when the instrument's text could not
// be read as a number.
type resultRow struct {
	stepNumber      int
	stepType        string
	overallResult   string
	termStateCode   *int
	termStateText   *string
	elapsedSeconds  *float64
	statusCode      *int
	statusText      *string
	testLevel       *float64
	testLevelUnit   *string
	measurement     *float64
	measurementUnit *string
	arcPeak         *float64
	notes           string
}

// parseField converts one instrument numeric field, recording a note
// instead of failing the whole row when it does not parse.
func parseField(label, raw string, notes *[]string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*notes = append(*notes, fmt.Sprintf("unparseable %s %q", label, raw))
		return nil
	}
	return &v
}

// levelUnit is the unit of the programmed test level for a step type.
func levelUnit(t v7x.TestType) string {
	switch t {
	case v7x.TestCONT, v7x.TestGND:
		return "A"
	default:
		return "V"
	}
}

// measurementUnit is the unit of the measured quantity for a step type.
func measurementUnit(t v7x.TestType) string {
	switch t {
	case v7x.TestACW, v7x.TestDCW:
		return "A"
	default:
		return "Ohms"
	}
}

// buildResultRows flattens a run outcome into insertable rows, one per
// step. Rows are produced even when a step's raw text failed to decode:
// those carry the raw text in notes and NULL measurements.
func buildResultRows(res *v7x.SequenceRunResult, steps []v7x.StepConfig) []resultRow {
	overall := "FAIL"
	if res.Passed() {
		overall = "PASS"
	}

	rows := make([]resultRow, 0, len(res.Steps))
	for _, sr := range res.Steps {
		row := resultRow{
			stepNumber:    sr.StepNumber,
			stepType:      "UNKNOWN",
			overallResult: overall,
		}

		var stepType v7x.TestType
		if sr.StepNumber >= 1 && sr.StepNumber <= len(steps) {
			stepType = steps[sr.StepNumber-1].Type
			row.stepType = string(stepType)
		}

		if sr.Parsed == nil {
			row.notes = "Raw: " + sr.Raw
			rows = append(rows, row)
			continue
		}
		p := sr.Parsed

		var notes []string
		if code, err := strconv.Atoi(strings.TrimSpace(p.TermState)); err == nil {
			row.termStateCode = &code
		}
		if text, ok := v7x.LookupTermination(p.TermState); ok {
			row.termStateText = &text
		}

		status := p.StatusCode
		row.statusCode = &status
		statusText := v7x.StatusText(status)
		row.statusText = &statusText

		row.elapsedSeconds = parseField("elapsed time", p.Elapsed, &notes)
		row.testLevel = parseField("test level", p.Level, &notes)
		row.measurement = parseField("measurement", p.Measurement, &notes)

		if row.stepType != "UNKNOWN" {
			lu := levelUnit(stepType)
			mu := measurementUnit(stepType)
			row.testLevelUnit = &lu
			row.measurementUnit = &mu
			if p.ArcPeak != "" && (stepType == v7x.TestACW || stepType == v7x.TestDCW) {
				row.arcPeak = parseField("arc peak", p.ArcPeak, &notes)
			}
		}

		row.notes = strings.Join(notes, "; ")
		rows = append(rows, row)
	}
	return rows
}

// SaveRunResult records every step outcome of a completed run. A blank
// identity ID stores the rows with no sequence reference, so ad-hoc
// runs are still captured.
func (s *Store) SaveRunResult(ctx context.Context, identity v7x.SequenceIdentity, meta RunMeta, res *v7x.SequenceRunResult, steps []v7x.StepConfig) error {
	if res == nil || len(res.Steps) == 0 {
		return nil
	}

	var seqID any
	if identity.ID != "" {
		seqID = identity.ID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seqstore: begin: %w", err)
	}
	defer tx.Rollback()

	runAt := time.Now().UTC()
	for _, row := range buildResultRows(res, steps) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO test_results (
				id, sequence_id, run_at, dut_serial_number, operator_name,
				overall_result, step_number, test_step_type,
				termination_state_code, termination_state_text,
				elapsed_time_seconds, status_code, status_description,
				test_level, test_level_unit, measurement_result, measurement_unit,
				arc_current_peak, notes
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
			uuid.NewString(), seqID, runAt, meta.DUTSerial, meta.Operator,
			row.overallResult, row.stepNumber, row.stepType,
			row.termStateCode, row.termStateText,
			row.elapsedSeconds, row.statusCode, row.statusText,
			row.testLevel, row.testLevelUnit, row.measurement, row.measurementUnit,
			row.arcPeak, row.notes)
		if err != nil {
			return fmt.Errorf("seqstore: insert result for step %d: %w", row.stepNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seqstore: commit results: %w", err)
	}

	outcome := "FAIL"
	if res.Passed() {
		outcome = "PASS"
	}
	s.log.WithFields(logrus.Fields{
		"sequence": identity.Name,
		"steps":    len(res.Steps),
		"result":   outcome,
	}).Info("run results saved")
	return nil
}

// ListResults returns the most recent stored step results, newest
// first, up to limit rows.
func (s *Store) ListResults(ctx context.Context, limit int) ([]ResultRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, coalesce(r.sequence_id::text, ''), coalesce(s.name, ''),
		        r.run_at, r.dut_serial_number, r.operator_name,
		        r.overall_result, r.step_number, r.test_step_type,
		        coalesce(r.termination_state_text, ''),
		        r.elapsed_time_seconds, r.status_code, coalesce(r.status_description, ''),
		        r.test_level, coalesce(r.test_level_unit, ''),
		        r.measurement_result, coalesce(r.measurement_unit, ''),
		        r.arc_current_peak, r.notes
		 FROM test_results r
		 LEFT JOIN test_sequences s ON s.id = r.sequence_id
		 ORDER BY r.run_at DESC, r.step_number ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("seqstore: list results: %w", err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		var rec ResultRecord
		if err := rows.Scan(
			&rec.ID, &rec.SequenceID, &rec.SequenceName,
			&rec.RunAt, &rec.DUTSerial, &rec.Operator,
			&rec.OverallResult, &rec.StepNumber, &rec.StepType,
			&rec.TerminationText,
			&rec.ElapsedSeconds, &rec.StatusCode, &rec.StatusText,
			&rec.TestLevel, &rec.TestLevelUnit,
			&rec.Measurement, &rec.MeasurementUnit,
			&rec.ArcCurrentPeak, &rec.Notes,
		); err != nil {
			return nil, fmt.Errorf("seqstore: scan result: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
