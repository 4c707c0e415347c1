// Package orchestrator executes processes: phases run in declared order,
// task results and artifacts accumulate, breakpoints pause for approval, and
// every effect is journaled so interrupted runs can be resumed.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/a5c-ai/babysitter/pkg/breakpoints"
	"github.com/a5c-ai/babysitter/pkg/dispatch"
	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/process"
	"github.com/a5c-ai/babysitter/pkg/runs"
	"github.com/a5c-ai/babysitter/pkg/tasks"
	"github.com/a5c-ai/babysitter/pkg/telemetry"
)

// Processes resolves process definitions by id.
type Processes interface {
	Get(id string) (*process.Definition, error)
}

// Orchestrator drives runs.
type Orchestrator struct {
	processes  Processes
	store      runs.Store
	dispatcher dispatch.Dispatcher
	approver   breakpoints.Approver
	locker     *runs.Locker
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker serialises runs across processes with per-run lock files.
func WithLocker(locker *runs.Locker) Option {
	return func(o *Orchestrator) {
		o.locker = locker
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator.
func New(processes Processes, store runs.Store, dispatcher dispatch.Dispatcher, approver breakpoints.Approver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		processes:  processes,
		store:      store,
		dispatcher: dispatcher,
		approver:   approver,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) process(id string) (*process.Definition, error) {
	def, err := o.processes.Get(id)
	if errors.Is(err, process.ErrNotFound) {
		return nil, errors.Wrapf(ErrProcessNotFound, "%s", id)
	}
	return def, err
}

// Run starts a new run of processID. Inputs are validated against the
// process before the run is created.
func (o *Orchestrator) Run(ctx context.Context, processID string, inputs map[string]any) (*Result, error) {
	def, err := o.process(processID)
	if err != nil {
		return nil, err
	}

	resolved, err := def.ResolveInputs(inputs)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid inputs for process %s", processID)
	}

	encoded, err := json.Marshal(resolved)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode inputs")
	}

	run := &runs.Run{
		ID:        uuid.New().String(),
		ProcessID: def.ID,
		Status:    runs.StatusRunning,
		Inputs:    encoded,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	return o.execute(ctx, def, run, resolved)
}

// Resume continues a waiting or failed run. Effects already journaled are
// replayed and breakpoints decided in the meantime take effect.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*Result, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == runs.StatusCompleted {
		return nil, errors.Wrapf(ErrRunCompleted, "run %s", runID)
	}

	def, err := o.process(run.ProcessID)
	if err != nil {
		return nil, err
	}

	var inputs map[string]any
	if err := json.Unmarshal(run.Inputs, &inputs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode inputs of run %s", runID)
	}

	return o.execute(ctx, def, run, inputs)
}

func (o *Orchestrator) execute(ctx context.Context, def *process.Definition, run *runs.Run, inputs map[string]any) (result *Result, err error) {
	if o.locker != nil {
		unlock, err := o.locker.Lock(run.ID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	ctx = logger.WithFields(ctx, logrus.Fields{"run_id": run.ID, "process_id": def.ID})
	log := logger.G(ctx)

	ctx, span := telemetry.Tracer("").Start(ctx, "orchestrator.run")
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("process.id", def.ID),
		attribute.Int("process.phases", len(def.Phases)),
	)
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}()

	run.Status = runs.StatusRunning
	run.Error = ""
	run.CompletedAt = nil
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	journal, err := o.store.Journal(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	c := newContext(run.ID, inputs, journal, o)
	started := o.now()
	result = &Result{
		Success:   true,
		ProcessID: def.ID,
		RunID:     run.ID,
	}
	log.WithField("phases", len(def.Phases)).Info("run started")

	var runErr error
	for _, phase := range def.Phases {
		if phase.IsBreakpoint() {
			runErr = c.Breakpoint(ctx, phase.Name, *phase.Breakpoint)
		} else {
			var taskResult map[string]any
			taskResult, runErr = c.Task(ctx, phase.Name, phase.Task, def.Tasks[phase.Task], phase.Args)
			if runErr == nil && phase.FailWhen != nil {
				if msg, failed := evalFailWhen(phase.Name, phase.FailWhen, taskResult, c.data); failed {
					result.Success = false
					result.FailedPhase = phase.Name
					result.Error = msg
					log.WithField("phase", phase.Name).Warn("phase reported failure, stopping run")
					break
				}
			}
		}

		if runErr != nil {
			result.Success = false
			result.FailedPhase = phase.Name
			result.Error = runErr.Error()
			if errors.Is(runErr, ErrRunWaiting) {
				result.Breakpoint = phase.Name
				result.FailedPhase = ""
				result.Error = ""
			}
			break
		}
	}

	completed := o.now()
	result.Artifacts = c.Artifacts()
	if result.Artifacts == nil {
		result.Artifacts = []any{}
	}
	result.Results = c.data.Results
	result.Duration = completed.Sub(started).Milliseconds()
	result.Metadata = Metadata{
		StartedAt:   started,
		CompletedAt: completed,
		Phases:      len(def.Phases),
		Executed:    c.executed,
		Replayed:    c.replayed,
	}

	switch {
	case runErr == nil:
		result.Status = runs.StatusCompleted
		if result.Success {
			summary, err := renderOutputs(def.Outputs, c.data)
			if err != nil {
				log.WithError(err).Warn("failed to render outputs")
			}
			result.Summary = summary
		}
	case errors.Is(runErr, ErrRunWaiting):
		result.Status = runs.StatusWaiting
	default:
		result.Status = runs.StatusFailed
	}

	run.Status = result.Status
	run.Error = result.Error
	if result.Status == runs.StatusCompleted {
		t := completed.UTC()
		run.CompletedAt = &t
	}
	if run.Result, err = json.Marshal(result); err != nil {
		return result, errors.Wrap(err, "failed to encode run result")
	}
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return result, err
	}

	log.WithFields(logrus.Fields{
		"status":   result.Status,
		"success":  result.Success,
		"executed": c.executed,
		"replayed": c.replayed,
	}).Info("run finished")

	return result, runErr
}

// evalFailWhen reports whether the phase result matches the failure
// condition, along with the rendered failure message.
func evalFailWhen(phase string, fw *process.FailWhen, result map[string]any, data tasks.Data) (string, bool) {
	actual := tasks.Field(result, fw.Field)
	if !sameValue(actual, fw.Equals) {
		return "", false
	}

	msg, err := tasks.Render(fw.Message, data)
	if err != nil || msg == "" {
		msg = fmt.Sprintf("phase %s: %s is %v", phase, fw.Field, fw.Equals)
	}
	return msg, true
}

// sameValue compares values by their JSON encoding so that YAML integers
// and JSON floats compare equal.
func sameValue(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

func renderOutputs(outputs map[string]string, data tasks.Data) (map[string]any, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	summary := make(map[string]any, len(outputs))
	for _, key := range tasks.SortedKeys(outputs) {
		v, err := tasks.RenderValue(outputs[key], data)
		if err != nil {
			return summary, errors.Wrapf(err, "output %s", key)
		}
		summary[key] = v
	}
	return summary, nil
}
