package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a5c-ai/babysitter/pkg/config"
	"github.com/a5c-ai/babysitter/pkg/orchestrator"
	"github.com/a5c-ai/babysitter/pkg/runs"
)

func TestParseInputs(t *testing.T) {
	inputs, err := parseInputs([]string{
		"feature=Export invoices as CSV",
		"maxStories=5",
		"strict=true",
		`tags=["a","b"]`,
		"empty=",
		"expr=a=b",
	})
	require.NoError(t, err)
	assert.Equal(t, "Export invoices as CSV", inputs["feature"])
	assert.Equal(t, float64(5), inputs["maxStories"])
	assert.Equal(t, true, inputs["strict"])
	assert.Equal(t, []any{"a", "b"}, inputs["tags"])
	assert.Equal(t, "", inputs["empty"])
	assert.Equal(t, "a=b", inputs["expr"])

	_, err = parseInputs([]string{"novalue"})
	assert.ErrorContains(t, err, "expected key=value")
	_, err = parseInputs([]string{"=x"})
	assert.Error(t, err)
}

func TestLoadInputs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "inputs.yaml")
	require.NoError(t, os.WriteFile(file, []byte("feature: from file\nmaxStories: 3\n"), 0o644))

	inputs, err := loadInputs(file, []string{"maxStories=7"})
	require.NoError(t, err)
	assert.Equal(t, "from file", inputs["feature"])
	assert.Equal(t, float64(7), inputs["maxStories"])

	jsonFile := filepath.Join(dir, "inputs.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"feature": "json"}`), 0o644))
	inputs, err = loadInputs(jsonFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "json", inputs["feature"])

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	inputs, err = loadInputs(empty, []string{"a=1"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), inputs["a"])

	_, err = loadInputs(filepath.Join(dir, "missing.yaml"), nil)
	assert.ErrorContains(t, err, "failed to read inputs file")
}

func TestReportResult(t *testing.T) {
	boom := errors.New("boom")
	assert.Equal(t, boom, reportResult(nil, boom, false))

	completed := &orchestrator.Result{Success: true, RunID: "r1", Status: runs.StatusCompleted}
	assert.NoError(t, reportResult(completed, nil, true))

	failed := &orchestrator.Result{Success: false, RunID: "r1", Status: runs.StatusCompleted, FailedPhase: "verify"}
	err := reportResult(failed, nil, true)
	assert.True(t, errors.Is(err, errProcessFailed))
	assert.Contains(t, err.Error(), "verify")

	waiting := &orchestrator.Result{RunID: "r1", Status: runs.StatusWaiting, Breakpoint: "review"}
	err = reportResult(waiting, errors.Wrap(orchestrator.ErrRunWaiting, "review"), true)
	assert.Equal(t, exitWaiting, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitWaiting, exitCode(errors.Wrap(orchestrator.ErrRunWaiting, "phase review")))
	assert.Equal(t, exitFailure, exitCode(orchestrator.ErrBreakpointRejected))
	assert.Equal(t, exitFailure, exitCode(errors.New("anything")))
}

func TestBreakpointMode(t *testing.T) {
	a := &app{cfg: config.Config{Breakpoints: config.BreakpointConfig{Mode: config.BreakpointDeferred}}}
	assert.Equal(t, config.BreakpointAuto, a.breakpointMode(true))
	assert.Equal(t, config.BreakpointDeferred, a.breakpointMode(false))

	a.cfg.Breakpoints.Mode = config.BreakpointInteractive
	if !stdinIsTerminal() {
		assert.Equal(t, config.BreakpointDeferred, a.breakpointMode(false))
	} else {
		assert.Equal(t, config.BreakpointInteractive, a.breakpointMode(false))
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééééééé...", truncate("éééééééééééé", 10))
}
