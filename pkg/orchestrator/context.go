package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/a5c-ai/babysitter/pkg/breakpoints"
	"github.com/a5c-ai/babysitter/pkg/dispatch"
	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/process"
	"github.com/a5c-ai/babysitter/pkg/runs"
	"github.com/a5c-ai/babysitter/pkg/tasks"
	"github.com/a5c-ai/babysitter/pkg/telemetry"
)

// Context is the state of one executing run. Every Task and Breakpoint call
// is an effect with the next sequence number; effects already journaled are
// replayed instead of executed.
type Context struct {
	runID      string
	store      runs.Store
	dispatcher dispatch.Dispatcher
	approver   breakpoints.Approver
	journal    map[int]*runs.JournalEntry

	seq      int
	data     tasks.Data
	executed int
	replayed int
}

func newContext(runID string, inputs map[string]any, journal []*runs.JournalEntry, o *Orchestrator) *Context {
	c := &Context{
		runID:      runID,
		store:      o.store,
		dispatcher: o.dispatcher,
		approver:   o.approver,
		journal:    make(map[int]*runs.JournalEntry, len(journal)),
		data: tasks.Data{
			Inputs:  inputs,
			Results: map[string]any{},
		},
	}
	for _, e := range journal {
		c.journal[e.Seq] = e
	}
	return c
}

// Data returns the template data accumulated so far.
func (c *Context) Data() tasks.Data {
	return c.data
}

// Artifacts returns the artifacts collected so far in phase order.
func (c *Context) Artifacts() []any {
	return c.data.Artifacts
}

func (c *Context) next() int {
	c.seq++
	return c.seq
}

func (c *Context) replay(seq int, kind runs.EntryKind, name string) (*runs.JournalEntry, error) {
	entry, ok := c.journal[seq]
	if !ok {
		return nil, nil
	}
	if entry.Kind != kind || entry.Name != name {
		return nil, errors.Wrapf(ErrNonDeterministic, "effect %d was %s %q, now %s %q",
			seq, entry.Kind, entry.Name, kind, name)
	}
	return entry, nil
}

// record journals an effect. Persistence ignores cancellation so that a
// cancelled dispatch is still recorded.
func (c *Context) record(ctx context.Context, entry *runs.JournalEntry) error {
	entry.RunID = c.runID
	return c.store.AppendJournal(context.WithoutCancel(ctx), entry)
}

// warnArgsDrift logs when the arguments a replayed task would be dispatched
// with no longer match the journaled ones. The journaled result still wins.
func (c *Context) warnArgsDrift(ctx context.Context, entry *runs.JournalEntry, args map[string]any) {
	if len(entry.Payload) == 0 {
		return
	}
	rendered, err := tasks.RenderArgs(args, c.data)
	if err != nil {
		return
	}
	current, err := json.MarshalIndent(rendered, "", "  ")
	if err != nil {
		return
	}
	var journaled any
	if err := json.Unmarshal(entry.Payload, &journaled); err != nil {
		return
	}
	previous, err := json.MarshalIndent(journaled, "", "  ")
	if err != nil || bytes.Equal(previous, current) {
		return
	}

	diff := udiff.Unified("journaled", "current", string(previous)+"\n", string(current)+"\n")
	telemetry.AddEvent(ctx, "effect.args_changed",
		attribute.String("phase.name", entry.Name),
		attribute.Int("effect.seq", entry.Seq),
	)
	logger.G(ctx).WithField("phase", entry.Name).WithField("seq", entry.Seq).
		Warnf("task arguments changed since the effect was journaled, replaying the recorded result\n%s", diff)
}

func (c *Context) apply(name string, result map[string]any) {
	c.data.Results[name] = result
	c.data.Artifacts = append(c.data.Artifacts, tasks.Artifacts(result)...)
}

// Task runs the task def as effect name with args rendered against the run
// state, and returns the task's validated result.
func (c *Context) Task(ctx context.Context, name, taskName string, def *tasks.Definition, args map[string]any) (map[string]any, error) {
	seq := c.next()
	log := logger.G(ctx).WithField("phase", name).WithField("seq", seq)

	if def == nil {
		return nil, errors.Errorf("phase %s: unknown task %q", name, taskName)
	}

	entry, err := c.replay(seq, runs.KindTask, name)
	if err != nil {
		return nil, err
	}
	if entry != nil && entry.Status.Replayable() {
		c.warnArgsDrift(ctx, entry, args)
		var result map[string]any
		if err := json.Unmarshal(entry.Result, &result); err != nil {
			return nil, errors.Wrapf(err, "phase %s: failed to decode journaled result", name)
		}
		c.apply(name, result)
		c.replayed++
		telemetry.AddEvent(ctx, "effect.replayed",
			attribute.String("effect.kind", string(runs.KindTask)),
			attribute.String("phase.name", name),
			attribute.Int("effect.seq", seq),
		)
		log.Debug("replayed task from journal")
		return result, nil
	}

	rendered, err := tasks.RenderArgs(args, c.data)
	if err != nil {
		return nil, errors.Wrapf(err, "phase %s: failed to render args", name)
	}
	data := c.data
	data.Args = rendered

	prepared, err := tasks.Prepare(taskName, def, data)
	if err != nil {
		return nil, errors.Wrapf(err, "phase %s", name)
	}

	payload, err := json.Marshal(rendered)
	if err != nil {
		return nil, errors.Wrapf(err, "phase %s: failed to encode args", name)
	}

	var raw json.RawMessage
	err = telemetry.WithSpan(ctx, "orchestrator.task", func(ctx context.Context) error {
		var err error
		raw, err = c.dispatcher.Dispatch(ctx, dispatch.Request{
			RunID: c.runID,
			Seq:   seq,
			Phase: name,
			Task:  prepared,
		})
		return err
	},
		attribute.String("run.id", c.runID),
		attribute.String("phase.name", name),
		attribute.String("task.name", taskName),
		attribute.String("task.kind", string(prepared.Kind)),
		attribute.Int("effect.seq", seq),
	)

	var result map[string]any
	if err == nil {
		result, err = tasks.ValidateOutput(prepared.Schema, raw)
	}
	if err != nil {
		if recErr := c.record(ctx, &runs.JournalEntry{
			Seq:     seq,
			Kind:    runs.KindTask,
			Name:    name,
			Status:  runs.EntryError,
			Payload: payload,
			Error:   err.Error(),
		}); recErr != nil {
			log.WithError(recErr).Warn("failed to journal task error")
		}
		return nil, errors.Wrapf(err, "phase %s", name)
	}

	if err := c.record(ctx, &runs.JournalEntry{
		Seq:     seq,
		Kind:    runs.KindTask,
		Name:    name,
		Status:  runs.EntryOK,
		Payload: payload,
		Result:  raw,
	}); err != nil {
		return nil, err
	}

	c.apply(name, result)
	c.executed++
	log.Info("task completed")
	return result, nil
}

type breakpointPayload struct {
	Title    string   `json:"title,omitempty"`
	Question string   `json:"question"`
	Files    []string `json:"files,omitempty"`
}

type breakpointOutcome struct {
	Response  string `json:"response,omitempty"`
	DecidedBy string `json:"decidedBy,omitempty"`
}

// Breakpoint asks the approver to decide spec as effect name. It returns nil
// when approved, ErrBreakpointRejected when rejected and ErrRunWaiting while
// the decision is pending.
func (c *Context) Breakpoint(ctx context.Context, name string, spec process.BreakpointSpec) error {
	seq := c.next()
	log := logger.G(ctx).WithField("phase", name).WithField("seq", seq)

	entry, err := c.replay(seq, runs.KindBreakpoint, name)
	if err != nil {
		return err
	}
	if entry != nil && entry.Status.Replayable() {
		c.replayed++
		telemetry.AddEvent(ctx, "effect.replayed",
			attribute.String("effect.kind", string(runs.KindBreakpoint)),
			attribute.String("phase.name", name),
			attribute.Int("effect.seq", seq),
		)
		log.Debug("replayed approved breakpoint from journal")
		return nil
	}

	payload := breakpointPayload{}
	if payload.Title, err = tasks.Render(spec.Title, c.data); err != nil {
		return errors.Wrapf(err, "phase %s: breakpoint title", name)
	}
	if payload.Question, err = tasks.Render(spec.Question, c.data); err != nil {
		return errors.Wrapf(err, "phase %s: breakpoint question", name)
	}
	for _, f := range spec.Files {
		rendered, err := tasks.Render(f, c.data)
		if err != nil {
			return errors.Wrapf(err, "phase %s: breakpoint file", name)
		}
		if rendered != "" {
			payload.Files = append(payload.Files, rendered)
		}
	}

	var decision runs.Decision
	err = telemetry.WithSpan(ctx, "orchestrator.breakpoint", func(ctx context.Context) error {
		var err error
		decision, err = c.approver.Decide(ctx, breakpoints.Request{
			RunID:    c.runID,
			Seq:      seq,
			Phase:    name,
			Title:    payload.Title,
			Question: payload.Question,
			Files:    payload.Files,
		})
		return err
	},
		attribute.String("run.id", c.runID),
		attribute.String("phase.name", name),
		attribute.Int("effect.seq", seq),
	)
	if err != nil {
		return errors.Wrapf(err, "phase %s", name)
	}

	status := runs.EntryPending
	switch decision.Status {
	case runs.BreakpointApproved:
		status = runs.EntryApproved
	case runs.BreakpointRejected:
		status = runs.EntryRejected
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode breakpoint")
	}
	outcomeJSON, err := json.Marshal(breakpointOutcome{Response: decision.Response, DecidedBy: decision.DecidedBy})
	if err != nil {
		return errors.Wrap(err, "failed to encode breakpoint decision")
	}
	if err := c.record(ctx, &runs.JournalEntry{
		Seq:     seq,
		Kind:    runs.KindBreakpoint,
		Name:    name,
		Status:  status,
		Payload: payloadJSON,
		Result:  outcomeJSON,
	}); err != nil {
		return err
	}

	switch status {
	case runs.EntryApproved:
		c.executed++
		log.WithField("decided_by", decision.DecidedBy).Info("breakpoint approved")
		return nil
	case runs.EntryRejected:
		log.WithField("decided_by", decision.DecidedBy).Info("breakpoint rejected")
		if decision.Response != "" {
			return errors.Wrapf(ErrBreakpointRejected, "phase %s: %s", name, decision.Response)
		}
		return errors.Wrapf(ErrBreakpointRejected, "phase %s", name)
	default:
		log.Info("breakpoint pending")
		return errors.Wrapf(ErrRunWaiting, "phase %s", name)
	}
}
