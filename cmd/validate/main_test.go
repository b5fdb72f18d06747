// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_ValidMinimal(t *testing.T) {
	path := writeConfig(t, "log_level: info\ndata_dir: "+t.TempDir()+"\n")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-f", path}, &stdout, &stderr)

	require.Equal(t, exitValid, code, stderr.String())
	assert.Contains(t, stdout.String(), "is valid")
	assert.Contains(t, stdout.String(), "setup mode")
}

func TestRun_ValidWithTiers(t *testing.T) {
	path := writeConfig(t, `
data_dir: `+t.TempDir()+`
cache:
  fast_root: /mnt/fast
  slow_roots:
    - /mnt/slow
`)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--file", path}, &stdout, &stderr)

	require.Equal(t, exitValid, code, stderr.String())
	assert.Contains(t, stdout.String(), "is valid")
	assert.NotContains(t, stdout.String(), "setup mode")
}

func TestRun_HalfConfiguredTiers(t *testing.T) {
	path := writeConfig(t, `
data_dir: `+t.TempDir()+`
cache:
  fast_root: /mnt/fast
`)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-f", path}, &stdout, &stderr)

	require.Equal(t, exitInvalid, code)
	assert.Contains(t, stderr.String(), "configuration error")
	assert.Contains(t, stderr.String(), "slow_roots")
}

func TestRun_UnknownKey(t *testing.T) {
	path := writeConfig(t, "no_such_key: true\n")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-f", path}, &stdout, &stderr)

	require.Equal(t, exitInvalid, code)
	assert.Contains(t, stderr.String(), "configuration error")
}

func TestRun_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-f", path}, &stdout, &stderr)

	require.Equal(t, exitInvalid, code)
	assert.Contains(t, stderr.String(), "configuration error")
}

func TestRun_NoFileFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(nil, &stdout, &stderr)

	require.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "--file is required")
}

func TestRun_BadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-no-such-flag"}, &stdout, &stderr)

	require.Equal(t, exitUsage, code)
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-version"}, &stdout, &stderr)

	require.Equal(t, exitValid, code)
	assert.Contains(t, stdout.String(), "dev")
}
