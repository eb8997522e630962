// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benchsafe/dielectric/pkg/v7x"
)

func TestLoad_MissingFileIsEmptySession(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "absent.cbor"))
	require.NoError(t, err)
	assert.True(t, st.Empty())
	assert.Nil(t, st.Identity)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")

	acw := v7x.DefaultStep(v7x.TestACW)
	acw.Name = "primary insulation"
	acw.GroundCheck = true
	gnd := v7x.DefaultStep(v7x.TestGND)

	saved := &State{
		Steps: []v7x.StepConfig{acw, gnd},
		Identity: &v7x.SequenceIdentity{
			ID:   "7f9c35b2-41a0-4a8e-9d3e-6f21cf0b8a11",
			Name: "line-end",
		},
	}
	require.NoError(t, Save(path, saved))
	assert.False(t, saved.SavedAt.IsZero(), "Save must stamp the state")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, v7x.TestACW, loaded.Steps[0].Type)
	assert.Equal(t, "primary insulation", loaded.Steps[0].Name)
	assert.True(t, loaded.Steps[0].GroundCheck)
	assert.Equal(t, saved.Steps[0].Params, loaded.Steps[0].Params)
	assert.Equal(t, v7x.TestGND, loaded.Steps[1].Type)
	require.NotNil(t, loaded.Identity)
	assert.Equal(t, "line-end", loaded.Identity.Name)
}

func TestSave_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "session.cbor")
	require.NoError(t, Save(path, &State{}))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestSave_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.cbor")

	require.NoError(t, Save(path, &State{Steps: []v7x.StepConfig{v7x.DefaultStep(v7x.TestIR)}}))
	require.NoError(t, Save(path, &State{Steps: []v7x.StepConfig{v7x.DefaultStep(v7x.TestCONT)}}))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, v7x.TestCONT, loaded.Steps[0].Type)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoad_CorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	require.NoError(t, os.WriteFile(path, []byte("not cbor at all"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	require.NoError(t, Save(path, &State{}))
	require.NoError(t, Clear(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Clearing again is fine.
	assert.NoError(t, Clear(path))
}
