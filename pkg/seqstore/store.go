// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

// Package seqstore persists test sequences and run results in
// PostgreSQL, so sequences survive the bench PC and results feed the
// plant's quality reporting.
package seqstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Benchsafe/dielectric/pkg/v7x"
)

// ErrDuplicateName is returned when saving a sequence under a name that
// already exists.
var ErrDuplicateName = errors.New("seqstore: sequence name already exists")

// ErrNotFound is returned when a sequence id has no stored row.
var ErrNotFound = errors.New("seqstore: sequence not found")

// pqUniqueViolation is the PostgreSQL error code for a unique
// constraint failure.
const pqUniqueViolation = "23505"

// Store wraps the database handle. Safe for concurrent use; database/sql
// pools underneath.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Open connects and verifies the connection. The logger may be nil.
func Open(dsn string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.New()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("seqstore: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seqstore: ping database: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables when absent. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS test_sequences (
			id          UUID PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS test_steps (
			sequence_id  UUID NOT NULL REFERENCES test_sequences(id) ON DELETE CASCADE,
			step_number  INT NOT NULL,
			step_type    TEXT NOT NULL,
			step_name    TEXT NOT NULL DEFAULT '',
			parameters   JSONB NOT NULL DEFAULT '{}',
			ground_check BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (sequence_id, step_number)
		)`,
		`CREATE TABLE IF NOT EXISTS test_results (
			id                     UUID PRIMARY KEY,
			sequence_id            UUID REFERENCES test_sequences(id) ON DELETE SET NULL,
			run_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
			dut_serial_number      TEXT NOT NULL DEFAULT '',
			operator_name          TEXT NOT NULL DEFAULT '',
			overall_result         TEXT NOT NULL,
			step_number            INT NOT NULL,
			test_step_type         TEXT NOT NULL,
			termination_state_code INT,
			termination_state_text TEXT,
			elapsed_time_seconds   DOUBLE PRECISION,
			status_code            INT,
			status_description     TEXT,
			test_level             DOUBLE PRECISION,
			test_level_unit        TEXT,
			measurement_result     DOUBLE PRECISION,
			measurement_unit       TEXT,
			arc_current_peak       DOUBLE PRECISION,
			notes                  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS test_results_run_at_idx ON test_results (run_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seqstore: ensure schema: %w", err)
		}
	}
	return nil
}

// SequenceInfo is one saved-sequence listing row.
type SequenceInfo struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	StepCount   int
}

// SaveSequence stores the steps under a new client-generated id. Header
// and steps go in one transaction so a header without its steps can
// never survive a partial failure.
func (s *Store) SaveSequence(ctx context.Context, name, description string, steps []v7x.StepConfig) (v7x.SequenceIdentity, error) {
	var identity v7x.SequenceIdentity
	if name == "" {
		return identity, errors.New("seqstore: sequence name cannot be empty")
	}
	if len(steps) == 0 {
		return identity, errors.New("seqstore: no steps to save")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity, fmt.Errorf("seqstore: begin: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO test_sequences (id, name, description) VALUES ($1, $2, $3)`,
		id, name, description)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return identity, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		return identity, fmt.Errorf("seqstore: insert sequence: %w", err)
	}

	for i, step := range steps {
		params, err := json.Marshal(step.Params)
		if err != nil {
			return identity, fmt.Errorf("seqstore: encode step %d parameters: %w", i+1, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO test_steps (sequence_id, step_number, step_type, step_name, parameters, ground_check)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, i+1, string(step.Type), step.Name, params, step.GroundCheck)
		if err != nil {
			return identity, fmt.Errorf("seqstore: insert step %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return identity, fmt.Errorf("seqstore: commit: %w", err)
	}

	identity = v7x.SequenceIdentity{ID: id, Name: name, Description: description}
	s.log.WithFields(logrus.Fields{"id": id, "name": name, "steps": len(steps)}).
		Info("sequence saved")
	return identity, nil
}

// LoadSequence fetches a saved sequence and its ordered steps.
func (s *Store) LoadSequence(ctx context.Context, id string) (v7x.SequenceIdentity, []v7x.StepConfig, error) {
	var identity v7x.SequenceIdentity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description FROM test_sequences WHERE id = $1`, id).
		Scan(&identity.ID, &identity.Name, &identity.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return identity, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return identity, nil, fmt.Errorf("seqstore: load sequence: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step_type, step_name, parameters, ground_check
		 FROM test_steps WHERE sequence_id = $1 ORDER BY step_number`, id)
	if err != nil {
		return identity, nil, fmt.Errorf("seqstore: load steps: %w", err)
	}
	defer rows.Close()

	var steps []v7x.StepConfig
	for rows.Next() {
		var (
			stepType string
			cfg      v7x.StepConfig
			params   []byte
		)
		if err := rows.Scan(&stepType, &cfg.Name, &params, &cfg.GroundCheck); err != nil {
			return identity, nil, fmt.Errorf("seqstore: scan step: %w", err)
		}
		cfg.Type = v7x.TestType(stepType)
		if err := json.Unmarshal(params, &cfg.Params); err != nil {
			return identity, nil, fmt.Errorf("seqstore: decode step parameters: %w", err)
		}
		steps = append(steps, cfg)
	}
	if err := rows.Err(); err != nil {
		return identity, nil, fmt.Errorf("seqstore: iterate steps: %w", err)
	}
	return identity, steps, nil
}

// ListSequences returns every saved sequence, newest first.
func (s *Store) ListSequences(ctx context.Context) ([]SequenceInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.name, s.description, s.created_at, count(t.step_number)
		 FROM test_sequences s
		 LEFT JOIN test_steps t ON t.sequence_id = s.id
		 GROUP BY s.id, s.name, s.description, s.created_at
		 ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("seqstore: list sequences: %w", err)
	}
	defer rows.Close()

	var out []SequenceInfo
	for rows.Next() {
		var info SequenceInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Description, &info.CreatedAt, &info.StepCount); err != nil {
			return nil, fmt.Errorf("seqstore: scan sequence: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteSequence removes a saved sequence; its steps cascade.
func (s *Store) DeleteSequence(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM test_sequences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("seqstore: delete sequence: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
