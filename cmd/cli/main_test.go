package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_PanicRecovery(t *testing.T) {
	t.Parallel()

	// An HCL syntax error makes app.NewApp panic during startup; run must
	// recover it into an error.
	invalidHCL := `
		node "manual" "a" {
			input "x" {
	// Missing closing brace here
	`
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "nodes.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0o600))

	args := []string{
		"-data-dir", filepath.Join(tempDir, "state"),
		"-listen", "",
		"-log-level", "error",
		filePath,
	}
	out := &bytes.Buffer{}

	runErr := run(context.Background(), out, args)

	require.Error(t, runErr)
	require.Contains(t, runErr.Error(), "application startup panicked")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	args := []string{"-h"}
	out := &bytes.Buffer{}

	err := run(context.Background(), out, args)

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	args := []string{"--this-is-not-a-valid-flag"}
	out := &bytes.Buffer{}

	err := run(context.Background(), out, args)

	require.Error(t, err)
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_HeadlessShutdown(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	args := []string{
		"-data-dir", filepath.Join(tempDir, "state"),
		"-listen", "",
		"-log-level", "error",
	}
	out := &bytes.Buffer{}

	require.NoError(t, run(ctx, out, args))
}
