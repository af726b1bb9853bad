package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/harness"
)

const scenariosDir = "../harness/testdata/scenarios"

func TestTest_AllPass(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ stored_closure")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_Filter(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--filter", "stored_*", "--backend", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTest_JSON(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--format", "json")
	require.NoError(t, err)

	var result harness.SuiteResult
	resp := jsonResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, result.Total)
	for _, s := range result.Scenarios {
		assert.True(t, s.Pass, s.Name)
	}
}

func TestTest_FailureAndUpdate(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: counted
description: "A closure with the wrong expected count"
steps:
  - source: |
      output: "e"
      rules: [{head: {relation: "e", args: ["a"]}, facts: [[1], [2]]}]
    expect:
      count: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counted.yaml"), []byte(scenario), 0644))

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ counted")
	assert.Contains(t, out, "expected 3 tuples, got 2")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")

	// Updating writes a golden but the expectation still fails.
	out, _, err = execute(t, "test", dir, "--update")
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "golden", "counted.golden"))
	assert.Contains(t, out, "✗ counted")
}

func TestTest_Empty(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTest_MissingDir(t *testing.T) {
	_, _, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}
