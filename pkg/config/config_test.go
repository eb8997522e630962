// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Benchsafe Instruments

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, TransportHID, cfg.Transport)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.SessionPath)
}

func TestLoad_MissingFileIsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
	assert.Equal(t, Default().Transport, cfg.Transport)
	assert.Equal(t, Default().Baud, cfg.Baud)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	content := `
transport: serial
port: /dev/ttyUSB3
baud: 9600
database_dsn: postgres://bench:secret@db/dielectric
log_level: debug
`
	path := filepath.Join(t.TempDir(), "dielectric.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, TransportSerial, cfg.Transport)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Port)
	assert.Equal(t, 9600, cfg.Baud)
	assert.Equal(t, "postgres://bench:secret@db/dielectric", cfg.DatabaseDSN)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().ServeAddr, cfg.ServeAddr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	content := "port: /dev/ttyUSB0\nbaud: 9600\n"
	path := filepath.Join(t.TempDir(), "dielectric.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DIELECTRIC_PORT", "/dev/ttyACM1")
	t.Setenv("DIELECTRIC_BAUD", "115200")

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", cfg.Port)
	assert.Equal(t, 115200, cfg.Baud)
}

func TestLoad_BadEnvInteger(t *testing.T) {
	t.Setenv("DIELECTRIC_BAUD", "fast")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("transport: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	assert.Error(t, err)
}
