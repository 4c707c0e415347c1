// Package dispatch executes prepared tasks: agent tasks are sent to an LLM
// provider (Anthropic, OpenAI or Google) and shell tasks run a local command.
// Either way the result is a single JSON object.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/tasks"
)

// Request is one task dispatch within a run.
type Request struct {
	RunID string
	Seq   int
	Phase string
	Task  *tasks.Prepared
}

// Dispatcher executes a task and returns its raw JSON object result.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (json.RawMessage, error)
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, req Request) (json.RawMessage, error)

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Router sends shell tasks to Shell and everything else to Agent.
type Router struct {
	Agent Dispatcher
	Shell Dispatcher
}

// Dispatch implements Dispatcher.
func (r *Router) Dispatch(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Task == nil {
		return nil, errors.New("dispatch request has no task")
	}

	var d Dispatcher
	switch req.Task.Kind {
	case tasks.KindShell:
		d = r.Shell
	default:
		d = r.Agent
	}
	if d == nil {
		return nil, errors.Errorf("no dispatcher configured for %s tasks", req.Task.Kind)
	}

	return d.Dispatch(ctx, req)
}
