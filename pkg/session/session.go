// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

// Package session mirrors the working test sequence across CLI
// invocations. The instrument keeps its programmed sequence in memory
// as long as it stays powered; each command-line process is short
// lived, so the local half of the mirror is persisted to a small CBOR
// file between runs. The file is the local bookkeeping only; the
// sequencer's device-first rules still decide what enters it.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Benchsafe/dielectric/pkg/v7x"
)

// State is the persisted working sequence.
type State struct {
	// Steps mirrors the device's sequence memory.
	Steps []v7x.StepConfig `cbor:"1,keyasint"`
	// Identity ties the steps to a saved sequence, when loaded from or
	// saved to the store.
	Identity *v7x.SequenceIdentity `cbor:"2,keyasint,omitempty"`
	// SavedAt is when this state was written.
	SavedAt time.Time `cbor:"3,keyasint"`
}

// Empty reports whether the session holds no steps.
func (s *State) Empty() bool { return len(s.Steps) == 0 }

// Load reads the session file. A missing file is an empty session, not
// an error; a corrupt file is an error so a stale mirror is never
// silently trusted against real hardware state.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}

	var st State
	if err := cbor.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", path, err)
	}
	return &st, nil
}

// Save writes the session atomically: a temp file in the same directory
// is renamed over the target, so a crash mid-write never leaves a
// half-written mirror behind.
func Save(path string, st *State) error {
	st.SavedAt = time.Now().UTC()

	data, err := cbor.Marshal(st)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("session: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: replace %s: %w", path, err)
	}
	return nil
}

// Clear removes the session file. Clearing an absent session is fine.
func Clear(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: clear %s: %w", path, err)
	}
	return nil
}
