package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a5c-ai/babysitter/pkg/breakpoints"
	"github.com/a5c-ai/babysitter/pkg/dispatch"
	"github.com/a5c-ai/babysitter/pkg/process"
	"github.com/a5c-ai/babysitter/pkg/runs"
)

const specDriven = "methodologies/spec-driven"

type fakeDispatcher struct {
	mu        sync.Mutex
	responses map[string]string
	fail      map[string]error
	calls     map[string]int
	prompts   map[string]string
}

func newFakeDispatcher(responses map[string]string) *fakeDispatcher {
	return &fakeDispatcher{
		responses: responses,
		fail:      map[string]error{},
		calls:     map[string]int{},
		prompts:   map[string]string{},
	}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req dispatch.Request) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.Task.Name
	f.calls[name]++
	f.prompts[name] = req.Task.Prompt
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	return json.RawMessage(f.responses[name]), nil
}

func happyResponses() map[string]string {
	return map[string]string{
		"specify":       `{"stories":["login with sso"],"acceptanceCriteria":["redirects to idp"],"artifacts":[{"path":"artifacts/spec.md"}]}`,
		"plan":          `{"milestones":["m1","m2"],"artifacts":[{"path":"artifacts/plan.md"},{"path":"artifacts/tasks.md"}]}`,
		"validate-plan": `{"passed":true}`,
	}
}

type harness struct {
	store    *runs.SQLiteStore
	registry *process.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := runs.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := process.NewRegistry("../../examples/processes")
	require.NoError(t, registry.Load())

	return &harness{store: store, registry: registry}
}

func stepClock() func() time.Time {
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func (h *harness) orchestrator(d dispatch.Dispatcher, a breakpoints.Approver, opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(stepClock())}, opts...)
	return New(h.registry, h.store, d, a, opts...)
}

func TestRun_Completes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := newFakeDispatcher(happyResponses())

	locker, err := runs.NewLocker(t.TempDir())
	require.NoError(t, err)
	o := h.orchestrator(d, breakpoints.AutoApprover{}, WithLocker(locker))

	result, err := o.Run(ctx, specDriven, map[string]any{"feature": "SSO login"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, runs.StatusCompleted, result.Status)
	assert.Equal(t, specDriven, result.ProcessID)
	assert.Empty(t, result.FailedPhase)
	assert.Equal(t, []any{
		map[string]any{"path": "artifacts/spec.md"},
		map[string]any{"path": "artifacts/plan.md"},
		map[string]any{"path": "artifacts/tasks.md"},
	}, result.Artifacts)
	assert.Equal(t, "SSO login", result.Summary["feature"])
	assert.Equal(t, []any{"m1", "m2"}, result.Summary["milestones"])
	assert.Equal(t, int64(1000), result.Duration)
	assert.Equal(t, Metadata{
		StartedAt:   time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC),
		CompletedAt: time.Date(2025, 1, 1, 0, 0, 2, 0, time.UTC),
		Phases:      4,
		Executed:    4,
		Replayed:    0,
	}, result.Metadata)
	assert.Contains(t, result.Results, "validation")

	assert.Contains(t, d.prompts["plan"], "login with sso")
	assert.Contains(t, d.prompts["specify"], "engineering")

	run, err := h.store.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.JSONEq(t, `{"feature":"SSO login","constraints":[],"audience":"engineering"}`, string(run.Inputs))

	var stored Result
	require.NoError(t, json.Unmarshal(run.Result, &stored))
	assert.True(t, stored.Success)

	journal, err := h.store.Journal(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, journal, 4)
	assert.Equal(t, "specification", journal[0].Name)
	assert.Equal(t, runs.KindBreakpoint, journal[1].Kind)
	assert.Equal(t, runs.EntryApproved, journal[1].Status)
	assert.JSONEq(t, `{"title":"Specification review","question":"Approve the specification for SSO login?","files":["artifacts/spec.md"]}`, string(journal[1].Payload))
}

func TestRun_FailWhenShortCircuits(t *testing.T) {
	h := newHarness(t)
	responses := happyResponses()
	responses["validate-plan"] = `{"passed":false,"issues":["m1 has no owner","missing rollback"]}`
	d := newFakeDispatcher(responses)

	result, err := h.orchestrator(d, breakpoints.AutoApprover{}).Run(context.Background(), specDriven, map[string]any{"feature": "x"})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, runs.StatusCompleted, result.Status)
	assert.Equal(t, "validation", result.FailedPhase)
	assert.Equal(t, "Plan validation failed: m1 has no owner; missing rollback", result.Error)
	assert.Len(t, result.Artifacts, 3)
	assert.Nil(t, result.Summary)
}

func TestRun_InvalidRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.orchestrator(newFakeDispatcher(happyResponses()), breakpoints.AutoApprover{})

	_, err := o.Run(ctx, specDriven, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required input "feature"`)

	list, err := h.store.ListRuns(ctx, runs.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = o.Run(ctx, "nope", nil)
	assert.True(t, errors.Is(err, ErrProcessNotFound))
}

func TestRun_DeferredBreakpointThenResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := newFakeDispatcher(happyResponses())
	o := h.orchestrator(d, breakpoints.DeferredApprover{Store: h.store})

	result, err := o.Run(ctx, specDriven, map[string]any{"feature": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunWaiting))
	assert.Equal(t, runs.StatusWaiting, result.Status)
	assert.Equal(t, "spec-review", result.Breakpoint)
	assert.Empty(t, result.Error)
	assert.Equal(t, 0, d.calls["plan"])

	run, err := h.store.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusWaiting, run.Status)

	// still pending: resuming waits again without re-dispatching
	_, err = o.Resume(ctx, result.RunID)
	assert.True(t, errors.Is(err, ErrRunWaiting))
	assert.Equal(t, 1, d.calls["specify"])

	pending, err := h.store.ListBreakpoints(ctx, runs.BreakpointFilter{RunID: result.RunID, Status: runs.BreakpointPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	_, err = h.store.DecideBreakpoint(ctx, pending[0].ID, runs.Decision{Status: runs.BreakpointApproved, DecidedBy: "bob"})
	require.NoError(t, err)

	resumed, err := o.Resume(ctx, result.RunID)
	require.NoError(t, err)
	assert.True(t, resumed.Success)
	assert.Equal(t, runs.StatusCompleted, resumed.Status)
	assert.Equal(t, 1, resumed.Metadata.Replayed)
	assert.Equal(t, 3, resumed.Metadata.Executed)
	assert.Equal(t, 1, d.calls["specify"])
	assert.Equal(t, 1, d.calls["plan"])
	assert.Len(t, resumed.Artifacts, 3)

	_, err = o.Resume(ctx, result.RunID)
	assert.True(t, errors.Is(err, ErrRunCompleted))
}

func TestRun_BreakpointRejected(t *testing.T) {
	h := newHarness(t)
	d := newFakeDispatcher(happyResponses())
	reject := breakpoints.ApproverFunc(func(context.Context, breakpoints.Request) (runs.Decision, error) {
		return runs.Decision{Status: runs.BreakpointRejected, Response: "stories are vague"}, nil
	})

	result, err := h.orchestrator(d, reject).Run(context.Background(), specDriven, map[string]any{"feature": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBreakpointRejected))
	assert.Contains(t, err.Error(), "stories are vague")
	assert.False(t, result.Success)
	assert.Equal(t, runs.StatusFailed, result.Status)
	assert.Equal(t, "spec-review", result.FailedPhase)
	assert.Equal(t, 0, d.calls["plan"])
}

func TestRun_TaskFailureThenResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := newFakeDispatcher(happyResponses())
	d.fail["plan"] = errors.New("provider unavailable")
	o := h.orchestrator(d, breakpoints.AutoApprover{})

	result, err := o.Run(ctx, specDriven, map[string]any{"feature": "x"})
	require.Error(t, err)
	assert.Equal(t, runs.StatusFailed, result.Status)
	assert.Equal(t, "planning", result.FailedPhase)
	assert.Contains(t, result.Error, "provider unavailable")

	journal, err := h.store.Journal(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, journal, 3)
	assert.Equal(t, runs.EntryError, journal[2].Status)
	assert.Contains(t, journal[2].Error, "provider unavailable")

	run, err := h.store.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "provider unavailable")

	delete(d.fail, "plan")
	resumed, err := o.Resume(ctx, result.RunID)
	require.NoError(t, err)
	assert.True(t, resumed.Success)
	assert.Equal(t, 2, resumed.Metadata.Replayed)
	assert.Equal(t, 1, d.calls["specify"])
	assert.Equal(t, 2, d.calls["plan"])
}

func TestRun_InvalidTaskOutput(t *testing.T) {
	h := newHarness(t)
	responses := happyResponses()
	responses["specify"] = `{"stories":"not a list"}`

	result, err := h.orchestrator(newFakeDispatcher(responses), breakpoints.AutoApprover{}).
		Run(context.Background(), specDriven, map[string]any{"feature": "x"})
	require.Error(t, err)
	assert.Equal(t, "specification", result.FailedPhase)
	assert.Contains(t, err.Error(), "missing property 'acceptanceCriteria'")
}

func TestResume_NonDeterministic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := newFakeDispatcher(happyResponses())
	d.fail["plan"] = errors.New("boom")
	o := h.orchestrator(d, breakpoints.AutoApprover{})

	result, err := o.Run(ctx, specDriven, map[string]any{"feature": "x"})
	require.Error(t, err)

	require.NoError(t, h.store.AppendJournal(ctx, &runs.JournalEntry{
		RunID:  result.RunID,
		Seq:    1,
		Kind:   runs.KindTask,
		Name:   "renamed-phase",
		Status: runs.EntryOK,
		Result: json.RawMessage(`{}`),
	}))

	_, err = o.Resume(ctx, result.RunID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonDeterministic))
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	d := dispatch.Func(func(ctx context.Context, req dispatch.Request) (json.RawMessage, error) {
		cancel()
		return nil, ctx.Err()
	})

	result, err := h.orchestrator(d, breakpoints.AutoApprover{}).Run(ctx, specDriven, map[string]any{"feature": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, runs.StatusFailed, result.Status)

	run, err := h.store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, run.Status)

	journal, err := h.store.Journal(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, runs.EntryError, journal[0].Status)
}

func TestSameValue(t *testing.T) {
	assert.True(t, sameValue(false, false))
	assert.True(t, sameValue(float64(0), 0))
	assert.True(t, sameValue("x", "x"))
	assert.False(t, sameValue(nil, false))
	assert.False(t, sameValue("1", 1))
}
