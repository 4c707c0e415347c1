package orchestrator

import (
	"time"

	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/runs"
)

var (
	// ErrRunWaiting is returned when a run is suspended on a pending breakpoint.
	ErrRunWaiting = errors.New("run is waiting for a breakpoint decision")
	// ErrBreakpointRejected is returned when a breakpoint is rejected.
	ErrBreakpointRejected = errors.New("breakpoint rejected")
	// ErrNonDeterministic is returned when a resumed run's journal does not
	// match the effects the process produces.
	ErrNonDeterministic = errors.New("journal does not match process definition")
	// ErrProcessNotFound is returned for unknown process ids.
	ErrProcessNotFound = errors.New("process not found")
	// ErrRunCompleted is returned when resuming a run that already completed.
	ErrRunCompleted = errors.New("run already completed")
)

// Result is the aggregate outcome of a run.
type Result struct {
	Success     bool           `json:"success"`
	ProcessID   string         `json:"processId"`
	RunID       string         `json:"runId"`
	Status      runs.Status    `json:"status"`
	Summary     map[string]any `json:"summary,omitempty"`
	Artifacts   []any          `json:"artifacts"`
	Results     map[string]any `json:"results"`
	Duration    int64          `json:"duration"`
	Metadata    Metadata       `json:"metadata"`
	FailedPhase string         `json:"failedPhase,omitempty"`
	Error       string         `json:"error,omitempty"`
	// Breakpoint is the phase a waiting run is suspended on.
	Breakpoint string `json:"breakpoint,omitempty"`
}

// Metadata describes how a run was executed.
type Metadata struct {
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Phases      int       `json:"phases"`
	Executed    int       `json:"executed"`
	Replayed    int       `json:"replayed"`
}
