// Package mcp exposes processes, runs and breakpoints as Model Context
// Protocol tools, so an agent host can watch runs and decide deferred
// breakpoints without the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/process"
	"github.com/a5c-ai/babysitter/pkg/runs"
	"github.com/a5c-ai/babysitter/pkg/version"
)

// Processes lists and resolves process definitions.
type Processes interface {
	List() []*process.Definition
	Get(id string) (*process.Definition, error)
}

// Server holds the MCP server and the state its tools read and write.
type Server struct {
	mcp       *server.MCPServer
	processes Processes
	store     runs.Store
}

// New creates the MCP server with every tool registered.
func New(processes Processes, store runs.Store) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			"babysitter",
			version.Get().Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		processes: processes,
		store:     store,
	}

	s.mcp.AddTool(mcplib.NewTool("list_processes",
		mcplib.WithDescription("List the installed processes with their phase counts."),
	), s.listProcesses)

	s.mcp.AddTool(mcplib.NewTool("list_runs",
		mcplib.WithDescription("List runs, most recent first."),
		mcplib.WithString("status", mcplib.Description("Only runs with this status"),
			mcplib.Enum(string(runs.StatusRunning), string(runs.StatusWaiting), string(runs.StatusCompleted), string(runs.StatusFailed))),
		mcplib.WithString("process", mcplib.Description("Only runs of this process id")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum number of runs, 0 for all")),
	), s.listRuns)

	s.mcp.AddTool(mcplib.NewTool("get_run",
		mcplib.WithDescription("Show a run with its journal and breakpoints."),
		mcplib.WithString("run_id", mcplib.Required(), mcplib.Description("Run id")),
	), s.getRun)

	s.mcp.AddTool(mcplib.NewTool("list_breakpoints",
		mcplib.WithDescription("List breakpoints. Defaults to pending ones."),
		mcplib.WithString("status", mcplib.Description("Breakpoint status"),
			mcplib.Enum(string(runs.BreakpointPending), string(runs.BreakpointApproved), string(runs.BreakpointRejected))),
		mcplib.WithString("run_id", mcplib.Description("Only breakpoints of this run")),
	), s.listBreakpoints)

	s.mcp.AddTool(mcplib.NewTool("decide_breakpoint",
		mcplib.WithDescription("Approve or reject a pending breakpoint. The waiting run continues on its next resume."),
		mcplib.WithString("breakpoint_id", mcplib.Required(), mcplib.Description("Breakpoint id")),
		mcplib.WithString("decision", mcplib.Required(), mcplib.Enum("approve", "reject")),
		mcplib.WithString("response", mcplib.Description("Response recorded with the decision")),
		mcplib.WithString("decided_by", mcplib.Description("Who decided, defaults to mcp")),
	), s.decideBreakpoint)

	return s
}

// Serve speaks MCP over the given streams until ctx is cancelled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	logger.G(ctx).Info("serving MCP over stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

type listRunsArgs struct {
	Status  string  `json:"status"`
	Process string  `json:"process"`
	Limit   float64 `json:"limit"`
}

type runArgs struct {
	RunID string `json:"run_id"`
}

type listBreakpointsArgs struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

type decideArgs struct {
	BreakpointID string `json:"breakpoint_id"`
	Decision     string `json:"decision"`
	Response     string `json:"response"`
	DecidedBy    string `json:"decided_by"`
}

// bind decodes the tool arguments into v.
func bind(request mcplib.CallToolRequest, v any) error {
	data, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return errors.Wrap(err, "failed to encode arguments")
	}
	if string(data) == "null" {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, v), "invalid arguments")
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode result")
	}
	return mcplib.NewToolResultText(string(data)), nil
}

// toolError reports err to the caller as a tool failure rather than a
// protocol error.
func toolError(err error) (*mcplib.CallToolResult, error) {
	return mcplib.NewToolResultError(err.Error()), nil
}

// ProcessSummary is the listing view of a process.
type ProcessSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Phases      int    `json:"phases"`
}

func (s *Server) listProcesses(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	list := s.processes.List()
	out := make([]ProcessSummary, 0, len(list))
	for _, def := range list {
		out = append(out, ProcessSummary{ID: def.ID, Name: def.Name, Description: def.Description, Phases: len(def.Phases)})
	}
	return jsonResult(out)
}

func (s *Server) listRuns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args listRunsArgs
	if err := bind(request, &args); err != nil {
		return toolError(err)
	}
	list, err := s.store.ListRuns(ctx, runs.RunFilter{
		ProcessID: args.Process,
		Status:    runs.Status(args.Status),
		Limit:     int(args.Limit),
	})
	if err != nil {
		return toolError(err)
	}
	if list == nil {
		list = []*runs.Run{}
	}
	return jsonResult(list)
}

func (s *Server) getRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args runArgs
	if err := bind(request, &args); err != nil {
		return toolError(err)
	}
	if args.RunID == "" {
		return toolError(errors.New("run_id is required"))
	}

	run, err := s.store.GetRun(ctx, args.RunID)
	if err != nil {
		return toolError(err)
	}
	journal, err := s.store.Journal(ctx, run.ID)
	if err != nil {
		return toolError(err)
	}
	bps, err := s.store.ListBreakpoints(ctx, runs.BreakpointFilter{RunID: run.ID})
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]any{"run": run, "journal": journal, "breakpoints": bps})
}

func (s *Server) listBreakpoints(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	args := listBreakpointsArgs{Status: string(runs.BreakpointPending)}
	if err := bind(request, &args); err != nil {
		return toolError(err)
	}
	list, err := s.store.ListBreakpoints(ctx, runs.BreakpointFilter{
		RunID:  args.RunID,
		Status: runs.BreakpointStatus(args.Status),
	})
	if err != nil {
		return toolError(err)
	}
	if list == nil {
		list = []*runs.Breakpoint{}
	}
	return jsonResult(list)
}

func (s *Server) decideBreakpoint(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var args decideArgs
	if err := bind(request, &args); err != nil {
		return toolError(err)
	}

	var status runs.BreakpointStatus
	switch args.Decision {
	case "approve":
		status = runs.BreakpointApproved
	case "reject":
		status = runs.BreakpointRejected
	default:
		return toolError(errors.Errorf("decision must be approve or reject, got %q", args.Decision))
	}
	if args.DecidedBy == "" {
		args.DecidedBy = "mcp"
	}

	bp, err := s.store.DecideBreakpoint(ctx, args.BreakpointID, runs.Decision{
		Status:    status,
		Response:  args.Response,
		DecidedBy: args.DecidedBy,
	})
	if err != nil {
		return toolError(err)
	}
	logger.G(ctx).WithField("breakpoint", bp.ID).WithField("run_id", bp.RunID).
		WithField("status", bp.Status).Info("breakpoint decided over MCP")
	return mcplib.NewToolResultText(fmt.Sprintf("breakpoint %s %s; resume run %s to continue", bp.ID, bp.Status, bp.RunID)), nil
}
