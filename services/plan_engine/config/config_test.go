// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 100, s.Sanitizer.MaxOperations)
	assert.Equal(t, "mm", s.Sanitizer.DefaultUnits)
	assert.True(t, s.Sanitizer.StrictMode)
	assert.Equal(t, 0.5, s.Sanitizer.MinToolDiameter)
	assert.Equal(t, 30*time.Second, s.OpTimeout())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forgeplan.yaml")
	doc := `
sanitizer:
  max_operations: 7
  default_units: in
  strict_mode: false
  clamp_advisory: true
engine:
  op_timeout: 5s
server:
  addr: ":9999"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	var s Settings
	require.NoError(t, LoadFile(path, &s))
	assert.Equal(t, 7, s.Sanitizer.MaxOperations)
	assert.Equal(t, "in", s.Sanitizer.DefaultUnits)
	assert.False(t, s.Sanitizer.StrictMode)
	assert.True(t, s.Sanitizer.ClampAdvisory)
	assert.Equal(t, 5*time.Second, s.OpTimeout())
	assert.Equal(t, ":9999", s.Server.Addr)

	// Log dir defaults next to the config file.
	assert.Equal(t, filepath.Join(filepath.Dir(path), "actionlog"), s.Log.Dir)
}

func TestLoadFileMissing(t *testing.T) {
	var s Settings
	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), &s))
}

func TestOpTimeoutInvalid(t *testing.T) {
	s := Settings{Engine: EngineConfig{OpTimeout: "soon"}}
	assert.Equal(t, time.Duration(0), s.OpTimeout())
}

func TestCreateDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "forgeplan.yaml")
	require.NoError(t, createDefault(path))

	var s Settings
	require.NoError(t, LoadFile(path, &s))
	assert.Equal(t, DefaultSettings().Sanitizer.MaxOperations, s.Sanitizer.MaxOperations)
	assert.Equal(t, DefaultSettings().Server.Addr, s.Server.Addr)
}
