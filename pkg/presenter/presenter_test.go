package presenter

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestPresenter() (*TerminalPresenter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewWithOptions(&out, &errOut, ColorNever), &out, &errOut
}

func TestNew(t *testing.T) {
	p := New()
	assert.Equal(t, os.Stdout, p.output)
	assert.Equal(t, os.Stderr, p.errorOutput)
	assert.False(t, p.quiet)
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		envColor string
		expected ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"always", "", "always", ColorAlways},
		{"force", "", "force", ColorAlways},
		{"never", "", "never", ColorNever},
		{"off", "", "off", ColorNever},
		{"default", "", "", ColorAuto},
		{"invalid", "", "rainbow", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("BABYSITTER_COLOR", tt.envColor)
			if tt.noColor == "" {
				os.Unsetenv("NO_COLOR")
			}
			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestError(t *testing.T) {
	p, out, errOut := newTestPresenter()

	p.Error(errors.New("boom"), "dispatch failed")
	assert.Equal(t, "[ERROR] dispatch failed: boom\n", errOut.String())
	assert.Empty(t, out.String())

	errOut.Reset()
	p.Error(nil, "ignored")
	assert.Empty(t, errOut.String())
}

func TestQuietSuppressesOutput(t *testing.T) {
	p, out, _ := newTestPresenter()
	p.SetQuiet(true)

	p.Success("done")
	p.Warning("careful")
	p.Info("fyi")
	p.Section("Header")
	p.Separator()
	p.Summary(&RunSummary{RunID: "r1"})

	assert.True(t, p.IsQuiet())
	assert.Empty(t, out.String())
}

func TestSection(t *testing.T) {
	p, out, _ := newTestPresenter()
	p.Section("Phases")
	assert.Equal(t, "Phases\n------\n", out.String())
}

func TestPrompt(t *testing.T) {
	p, out, _ := newTestPresenter()
	p.WithInput(strings.NewReader("  approve \n"))

	answer := p.Prompt("Continue?", "approve", "reject")
	assert.Equal(t, "approve", answer)
	assert.Equal(t, "Continue? [approve/reject]: ", out.String())
}

func TestPromptWithoutNewline(t *testing.T) {
	p, _, _ := newTestPresenter()
	p.WithInput(strings.NewReader("yes"))
	assert.Equal(t, "yes", p.Prompt("Continue?"))
}

func TestSummary(t *testing.T) {
	p, out, _ := newTestPresenter()
	p.Summary(&RunSummary{
		RunID:       "run-1",
		ProcessID:   "demo",
		Status:      "completed",
		Duration:    1500 * time.Millisecond,
		Phases:      3,
		Replayed:    1,
		Artifacts:   4,
		FailedPhase: "verify",
		Error:       "tests failed",
	})

	text := out.String()
	assert.Contains(t, text, "[Run] run-1 | process: demo | status: completed")
	assert.Contains(t, text, "executed: 3 | replayed: 1 | artifacts: 4 | duration: 1.5s")
	assert.Contains(t, text, "[Failed] phase verify: tests failed")
}
