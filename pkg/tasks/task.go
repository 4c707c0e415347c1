// Package tasks models task definitions: a prompt for an agent (or a command
// for a shell task) together with the JSON schema its output must satisfy.
package tasks

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Kind selects how a task is executed.
type Kind string

const (
	KindAgent Kind = "agent"
	KindShell Kind = "shell"
)

// DefaultShellTimeout bounds shell tasks that do not set a timeout.
const DefaultShellTimeout = 5 * time.Minute

// Definition is a declared task: what to ask, whom to ask and what shape the
// answer must have.
type Definition struct {
	Kind         Kind       `yaml:"kind" json:"kind"`
	Title        string     `yaml:"title" json:"title,omitempty"`
	Agent        *AgentSpec `yaml:"agent" json:"agent,omitempty"`
	Shell        *ShellSpec `yaml:"shell" json:"shell,omitempty"`
	OutputSchema *Schema    `yaml:"outputSchema" json:"outputSchema,omitempty"`
	Labels       []string   `yaml:"labels" json:"labels,omitempty"`
}

// AgentSpec is the structured prompt handed to an agent.
type AgentSpec struct {
	Name         string         `yaml:"name" json:"name,omitempty"`
	Role         string         `yaml:"role" json:"role,omitempty"`
	Task         string         `yaml:"task" json:"task"`
	Context      map[string]any `yaml:"context" json:"context,omitempty"`
	Instructions []string       `yaml:"instructions" json:"instructions,omitempty"`
	OutputFormat string         `yaml:"outputFormat" json:"outputFormat,omitempty"`
}

// ShellSpec runs a command whose stdout is the task's JSON result.
type ShellSpec struct {
	Command string        `yaml:"command" json:"command"`
	Args    []string      `yaml:"args" json:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// EffectiveKind returns the task kind, defaulting to agent.
func (d *Definition) EffectiveKind() Kind {
	if d.Kind == "" {
		return KindAgent
	}
	return d.Kind
}

// Validate checks the definition is executable.
func (d *Definition) Validate() error {
	var result *multierror.Error

	switch d.EffectiveKind() {
	case KindAgent:
		if d.Agent == nil {
			result = multierror.Append(result, errors.New("agent task requires an agent block"))
		} else if d.Agent.Task == "" {
			result = multierror.Append(result, errors.New("agent.task is required"))
		}
		if d.Shell != nil {
			result = multierror.Append(result, errors.New("agent task must not declare a shell block"))
		}
	case KindShell:
		if d.Shell == nil || d.Shell.Command == "" {
			result = multierror.Append(result, errors.New("shell task requires shell.command"))
		}
		if d.Shell != nil && d.Shell.Timeout < 0 {
			result = multierror.Append(result, errors.New("shell.timeout must not be negative"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unknown task kind %q", d.Kind))
	}

	if d.OutputSchema != nil && d.OutputSchema.Schema != nil {
		if t := d.OutputSchema.Type; t != "" && t != "object" {
			result = multierror.Append(result, errors.Errorf("outputSchema must describe an object, got %q", t))
		}
	}

	return result.ErrorOrNil()
}
