// Package breakpoints decides human approval points raised by runs.
package breakpoints

import (
	"context"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/config"
	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/presenter"
	"github.com/a5c-ai/babysitter/pkg/runs"
)

// Request describes a breakpoint awaiting a decision.
type Request struct {
	RunID    string
	Seq      int
	Phase    string
	Title    string
	Question string
	Files    []string
}

// Approver decides breakpoints. A Decision with status pending suspends
// the run until the breakpoint is decided out of band.
type Approver interface {
	Decide(ctx context.Context, req Request) (runs.Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req Request) (runs.Decision, error)

// Decide calls f.
func (f ApproverFunc) Decide(ctx context.Context, req Request) (runs.Decision, error) {
	return f(ctx, req)
}

// AutoApprover approves every breakpoint.
type AutoApprover struct {
	By string
}

// Decide implements Approver.
func (a AutoApprover) Decide(ctx context.Context, req Request) (runs.Decision, error) {
	by := a.By
	if by == "" {
		by = "auto"
	}
	logger.G(ctx).WithField("phase", req.Phase).Info("breakpoint auto-approved")
	return runs.Decision{Status: runs.BreakpointApproved, DecidedBy: by}, nil
}

const maxPromptAttempts = 3

// TerminalApprover asks the user on the terminal.
type TerminalApprover struct {
	Presenter presenter.Presenter
}

// Decide implements Approver.
func (a TerminalApprover) Decide(ctx context.Context, req Request) (runs.Decision, error) {
	p := a.Presenter
	if p == nil {
		p = presenter.Default()
	}

	title := req.Title
	if title == "" {
		title = "Breakpoint: " + req.Phase
	}
	p.Section(title)
	p.Info(card(req))

	for i := 0; i < maxPromptAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return runs.Decision{}, err
		}

		switch strings.ToLower(p.Prompt("Approve?", "y", "n")) {
		case "y", "yes":
			return runs.Decision{Status: runs.BreakpointApproved, DecidedBy: currentUser()}, nil
		case "n", "no":
			reason := p.Prompt("Reason (optional)")
			return runs.Decision{Status: runs.BreakpointRejected, Response: reason, DecidedBy: currentUser()}, nil
		}
		p.Warning("please answer y or n")
	}
	return runs.Decision{}, errors.Errorf("no decision for breakpoint %q after %d prompts", req.Phase, maxPromptAttempts)
}

var cardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#e0af68"}).
	Padding(0, 1)

// card renders the question and the files under review as one bordered block.
func card(req Request) string {
	var b strings.Builder
	b.WriteString(req.Question)
	if len(req.Files) > 0 {
		b.WriteString("\n\nFiles:")
		for _, f := range req.Files {
			b.WriteString("\n  - " + f)
		}
	}
	return cardStyle.Render(b.String())
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "terminal"
}

// DeferredApprover persists the breakpoint and reports pending until it is
// decided through the CLI or the HTTP API.
type DeferredApprover struct {
	Store runs.Store
}

// Decide implements Approver.
func (a DeferredApprover) Decide(ctx context.Context, req Request) (runs.Decision, error) {
	bp, err := a.Store.FindBreakpoint(ctx, req.RunID, req.Seq)
	switch {
	case errors.Is(err, runs.ErrNotFound):
		bp = &runs.Breakpoint{
			ID:       uuid.New().String(),
			RunID:    req.RunID,
			Seq:      req.Seq,
			Title:    req.Title,
			Question: req.Question,
			Files:    req.Files,
			Status:   runs.BreakpointPending,
		}
		if err := a.Store.CreateBreakpoint(ctx, bp); err != nil {
			return runs.Decision{}, err
		}
		logger.G(ctx).WithField("breakpoint", bp.ID).WithField("phase", req.Phase).Info("breakpoint awaiting decision")
	case err != nil:
		return runs.Decision{}, err
	}

	return runs.Decision{Status: bp.Status, Response: bp.Response, DecidedBy: bp.DecidedBy}, nil
}

// New returns the approver for a configured mode.
func New(mode string, store runs.Store, p presenter.Presenter) (Approver, error) {
	switch mode {
	case config.BreakpointAuto:
		return AutoApprover{}, nil
	case config.BreakpointInteractive, "":
		return TerminalApprover{Presenter: p}, nil
	case config.BreakpointDeferred:
		if store == nil {
			return nil, errors.New("deferred breakpoints require a run store")
		}
		return DeferredApprover{Store: store}, nil
	default:
		return nil, errors.Errorf("unknown breakpoint mode %q", mode)
	}
}
