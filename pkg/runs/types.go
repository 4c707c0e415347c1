// Package runs persists orchestration runs: the run record, the ordered
// journal of effects (task dispatches and breakpoints) used for replay, and
// breakpoints awaiting a human decision.
package runs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further progress is possible without a new run.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// EntryKind identifies the effect a journal entry records.
type EntryKind string

const (
	KindTask       EntryKind = "task"
	KindBreakpoint EntryKind = "breakpoint"
)

// EntryStatus is the outcome recorded for an effect.
type EntryStatus string

const (
	EntryOK       EntryStatus = "ok"
	EntryError    EntryStatus = "error"
	EntryPending  EntryStatus = "pending"
	EntryApproved EntryStatus = "approved"
	EntryRejected EntryStatus = "rejected"
)

// Replayable reports whether an entry's outcome can be reused on resume.
func (s EntryStatus) Replayable() bool {
	return s == EntryOK || s == EntryApproved
}

// BreakpointStatus is the decision state of a breakpoint.
type BreakpointStatus string

const (
	BreakpointPending  BreakpointStatus = "pending"
	BreakpointApproved BreakpointStatus = "approved"
	BreakpointRejected BreakpointStatus = "rejected"
)

var (
	// ErrNotFound is returned when a run or breakpoint does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyDecided is returned when deciding a breakpoint that is no longer pending.
	ErrAlreadyDecided = errors.New("breakpoint already decided")
)

// Run is a single execution of a process.
type Run struct {
	ID          string          `json:"id"`
	ProcessID   string          `json:"processId"`
	Status      Status          `json:"status"`
	Inputs      json.RawMessage `json:"inputs"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// JournalEntry records one effect of a run, keyed by its sequence number.
type JournalEntry struct {
	RunID     string          `json:"runId"`
	Seq       int             `json:"seq"`
	Kind      EntryKind       `json:"kind"`
	Name      string          `json:"name"`
	Status    EntryStatus     `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Breakpoint is a human approval point raised by a run.
type Breakpoint struct {
	ID        string           `json:"id"`
	RunID     string           `json:"runId"`
	Seq       int              `json:"seq"`
	Title     string           `json:"title,omitempty"`
	Question  string           `json:"question"`
	Files     []string         `json:"files,omitempty"`
	Status    BreakpointStatus `json:"status"`
	Response  string           `json:"response,omitempty"`
	DecidedBy string           `json:"decidedBy,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	DecidedAt *time.Time       `json:"decidedAt,omitempty"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	ProcessID string
	Status    Status
	Limit     int
}

// BreakpointFilter narrows ListBreakpoints. Zero values match everything.
type BreakpointFilter struct {
	RunID  string
	Status BreakpointStatus
}

// Decision is an out-of-band verdict on a pending breakpoint.
type Decision struct {
	Status    BreakpointStatus
	Response  string
	DecidedBy string
}

// Store is the persistence contract used by the orchestrator, CLI and server.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	DeleteRun(ctx context.Context, id string) error

	AppendJournal(ctx context.Context, entry *JournalEntry) error
	Journal(ctx context.Context, runID string) ([]*JournalEntry, error)

	CreateBreakpoint(ctx context.Context, bp *Breakpoint) error
	GetBreakpoint(ctx context.Context, id string) (*Breakpoint, error)
	FindBreakpoint(ctx context.Context, runID string, seq int) (*Breakpoint, error)
	ListBreakpoints(ctx context.Context, filter BreakpointFilter) ([]*Breakpoint, error)
	DecideBreakpoint(ctx context.Context, id string, decision Decision) (*Breakpoint, error)

	Close() error
}
