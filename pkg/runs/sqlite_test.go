package runs

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &Run{
		ID:        "run-1",
		ProcessID: "methodologies/spec-kit",
		Status:    StatusRunning,
		Inputs:    json.RawMessage(`{"feature":"login"}`),
	}
	require.NoError(t, store.CreateRun(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())

	loaded, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "methodologies/spec-kit", loaded.ProcessID)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.JSONEq(t, `{"feature":"login"}`, string(loaded.Inputs))
	assert.Nil(t, loaded.Result)
	assert.Nil(t, loaded.CompletedAt)

	completed := time.Now().UTC()
	loaded.Status = StatusCompleted
	loaded.Result = json.RawMessage(`{"success":true}`)
	loaded.CompletedAt = &completed
	require.NoError(t, store.UpdateRun(ctx, loaded))

	reloaded, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, reloaded.Status)
	assert.JSONEq(t, `{"success":true}`, string(reloaded.Result))
	require.NotNil(t, reloaded.CompletedAt)
	assert.WithinDuration(t, completed, *reloaded.CompletedAt, time.Second)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	_, err = store.GetRun(ctx, "run-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_MissingRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = store.UpdateRun(ctx, &Run{ID: "missing", Status: StatusFailed})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = store.DeleteRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	fixtures := []*Run{
		{ID: "a", ProcessID: "p1", Status: StatusCompleted, CreatedAt: base},
		{ID: "b", ProcessID: "p1", Status: StatusWaiting, CreatedAt: base.Add(time.Minute)},
		{ID: "c", ProcessID: "p2", Status: StatusFailed, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range fixtures {
		require.NoError(t, store.CreateRun(ctx, r))
	}

	tests := []struct {
		name     string
		filter   RunFilter
		expected []string
	}{
		{name: "all newest first", filter: RunFilter{}, expected: []string{"c", "b", "a"}},
		{name: "by process", filter: RunFilter{ProcessID: "p1"}, expected: []string{"b", "a"}},
		{name: "by status", filter: RunFilter{Status: StatusWaiting}, expected: []string{"b"}},
		{name: "limit", filter: RunFilter{Limit: 2}, expected: []string{"c", "b"}},
		{name: "no match", filter: RunFilter{ProcessID: "p3"}, expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.ListRuns(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(runs))
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestSQLiteStore_Journal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateRun(ctx, &Run{ID: "run-1", ProcessID: "p", Status: StatusRunning}))

	require.NoError(t, store.AppendJournal(ctx, &JournalEntry{
		RunID: "run-1", Seq: 2, Kind: KindBreakpoint, Name: "review", Status: EntryPending,
	}))
	require.NoError(t, store.AppendJournal(ctx, &JournalEntry{
		RunID: "run-1", Seq: 1, Kind: KindTask, Name: "research", Status: EntryOK,
		Payload: json.RawMessage(`{"topic":"x"}`), Result: json.RawMessage(`{"artifacts":[]}`),
	}))

	entries, err := store.Journal(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Seq)
	assert.Equal(t, "research", entries[0].Name)
	assert.JSONEq(t, `{"topic":"x"}`, string(entries[0].Payload))
	assert.Equal(t, EntryPending, entries[1].Status)
	assert.Nil(t, entries[1].Result)

	// a later decision overwrites the pending entry in place
	require.NoError(t, store.AppendJournal(ctx, &JournalEntry{
		RunID: "run-1", Seq: 2, Kind: KindBreakpoint, Name: "review", Status: EntryApproved,
		Result: json.RawMessage(`{"approved":true}`),
	}))
	entries, err = store.Journal(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EntryApproved, entries[1].Status)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	entries, err = store.Journal(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteStore_Breakpoints(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateRun(ctx, &Run{ID: "run-1", ProcessID: "p", Status: StatusRunning}))

	bp := &Breakpoint{
		ID:       "bp-1",
		RunID:    "run-1",
		Seq:      3,
		Title:    "Plan review",
		Question: "Approve the plan?",
		Files:    []string{"artifacts/plan.md"},
	}
	require.NoError(t, store.CreateBreakpoint(ctx, bp))
	assert.Equal(t, BreakpointPending, bp.Status)

	found, err := store.FindBreakpoint(ctx, "run-1", 3)
	require.NoError(t, err)
	assert.Equal(t, "bp-1", found.ID)
	assert.Equal(t, []string{"artifacts/plan.md"}, found.Files)

	_, err = store.FindBreakpoint(ctx, "run-1", 4)
	assert.True(t, errors.Is(err, ErrNotFound))

	pending, err := store.ListBreakpoints(ctx, BreakpointFilter{Status: BreakpointPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	decided, err := store.DecideBreakpoint(ctx, "bp-1", Decision{
		Status: BreakpointApproved, Response: "looks good", DecidedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, BreakpointApproved, decided.Status)
	assert.Equal(t, "looks good", decided.Response)
	assert.Equal(t, "alice", decided.DecidedBy)
	assert.NotNil(t, decided.DecidedAt)

	_, err = store.DecideBreakpoint(ctx, "bp-1", Decision{Status: BreakpointRejected})
	assert.True(t, errors.Is(err, ErrAlreadyDecided))

	_, err = store.DecideBreakpoint(ctx, "missing", Decision{Status: BreakpointRejected})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.DecideBreakpoint(ctx, "bp-1", Decision{Status: BreakpointPending})
	assert.Error(t, err)

	pending, err = store.ListBreakpoints(ctx, BreakpointFilter{Status: BreakpointPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := store.ListBreakpoints(ctx, BreakpointFilter{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLocker(t *testing.T) {
	locker, err := NewLocker(t.TempDir())
	require.NoError(t, err)

	owner, err := locker.Owner("run-1")
	require.NoError(t, err)
	assert.Nil(t, owner)

	unlock, err := locker.Lock("run-1")
	require.NoError(t, err)

	owner, err = locker.Owner("run-1")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Greater(t, owner.PID, 0)

	acquired := make(chan struct{})
	go func() {
		release, err := locker.Lock("run-1")
		if err == nil {
			release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first is held")
	case <-time.After(100 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second lock never acquired")
	}

	require.NoError(t, locker.Remove("run-1"))
}
