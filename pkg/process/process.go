// Package process loads declarative process definitions: a named, fixed
// sequence of phases where each phase either dispatches a task or pauses at a
// breakpoint for human review.
package process

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/tasks"
)

// InputType is the declared type of a process input.
type InputType string

const (
	TypeString  InputType = "string"
	TypeNumber  InputType = "number"
	TypeBoolean InputType = "boolean"
	TypeArray   InputType = "array"
	TypeObject  InputType = "object"
)

// Input declares one named input of a process.
type Input struct {
	Type        InputType `yaml:"type" json:"type,omitempty"`
	Required    bool      `yaml:"required" json:"required,omitempty"`
	Default     any       `yaml:"default" json:"default,omitempty"`
	Description string    `yaml:"description" json:"description,omitempty"`
}

// Definition is a process: inputs, reusable task definitions and the
// ordered phases that use them.
type Definition struct {
	ID          string                       `yaml:"id" json:"id"`
	Name        string                       `yaml:"name" json:"name,omitempty"`
	Description string                       `yaml:"description" json:"description,omitempty"`
	Inputs      map[string]Input             `yaml:"inputs" json:"inputs,omitempty"`
	Tasks       map[string]*tasks.Definition `yaml:"tasks" json:"tasks,omitempty"`
	Phases      []Phase                      `yaml:"phases" json:"phases"`
	Outputs     map[string]string            `yaml:"outputs" json:"outputs,omitempty"`
	Metadata    map[string]string            `yaml:"metadata" json:"metadata,omitempty"`

	// Path is the file the definition was loaded from.
	Path string `yaml:"-" json:"path,omitempty"`
}

// Phase is one step of a process.
type Phase struct {
	Name       string          `yaml:"name" json:"name"`
	Task       string          `yaml:"task" json:"task,omitempty"`
	Args       map[string]any  `yaml:"args" json:"args,omitempty"`
	Breakpoint *BreakpointSpec `yaml:"breakpoint" json:"breakpoint,omitempty"`
	FailWhen   *FailWhen       `yaml:"failWhen" json:"failWhen,omitempty"`
}

// BreakpointSpec describes a human approval point.
type BreakpointSpec struct {
	Title    string   `yaml:"title" json:"title,omitempty"`
	Question string   `yaml:"question" json:"question"`
	Files    []string `yaml:"files" json:"files,omitempty"`
}

// FailWhen short-circuits the process when a field of the phase result
// equals a value, e.g. a validation task reporting passed: false.
type FailWhen struct {
	Field   string `yaml:"field" json:"field"`
	Equals  any    `yaml:"equals" json:"equals"`
	Message string `yaml:"message" json:"message,omitempty"`
}

// IsBreakpoint reports whether the phase pauses for approval.
func (p *Phase) IsBreakpoint() bool {
	return p.Breakpoint != nil
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*(/[a-z0-9][a-z0-9._-]*)*$`)

// Validate checks the structural rules of a definition and reports every
// violation found.
func (d *Definition) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if d.ID == "" {
		add("id is required")
	} else if !idPattern.MatchString(d.ID) {
		add("id %q must be lowercase kebab-case path segments", d.ID)
	}

	for name, input := range d.Inputs {
		switch input.Type {
		case "", TypeString, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		default:
			add("input %s: unknown type %q", name, input.Type)
		}
		if input.Default != nil && input.Type != "" {
			if err := checkType(input.Type, input.Default); err != nil {
				add("input %s: default %v", name, err)
			}
		}
	}

	for _, name := range tasks.SortedKeys(d.Tasks) {
		def := d.Tasks[name]
		if def == nil {
			add("task %s: empty definition", name)
			continue
		}
		if err := def.Validate(); err != nil {
			add("task %s: %v", name, flatten(err))
		}
	}

	if len(d.Phases) == 0 {
		add("at least one phase is required")
	}

	seen := make(map[string]bool)
	for i, phase := range d.Phases {
		label := fmt.Sprintf("phase %d", i+1)
		if phase.Name == "" {
			add("%s: name is required", label)
		} else {
			label = fmt.Sprintf("phase %q", phase.Name)
			if seen[phase.Name] {
				add("%s: duplicate phase name", label)
			}
			seen[phase.Name] = true
		}

		switch {
		case phase.Task != "" && phase.Breakpoint != nil:
			add("%s: must declare either task or breakpoint, not both", label)
		case phase.Task == "" && phase.Breakpoint == nil:
			add("%s: must declare a task or a breakpoint", label)
		case phase.Task != "":
			if _, ok := d.Tasks[phase.Task]; !ok {
				add("%s: unknown task %q", label, phase.Task)
			}
		case phase.Breakpoint.Question == "":
			add("%s: breakpoint question is required", label)
		}

		if phase.FailWhen != nil {
			if phase.Breakpoint != nil {
				add("%s: failWhen only applies to task phases", label)
			}
			if phase.FailWhen.Field == "" {
				add("%s: failWhen.field is required", label)
			}
		}
	}

	return result.ErrorOrNil()
}

// ResolveInputs applies defaults and checks required inputs and types.
// The returned map is a copy; given is not modified.
func (d *Definition) ResolveInputs(given map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(given)+len(d.Inputs))
	for k, v := range given {
		resolved[k] = v
	}

	var result *multierror.Error
	for _, name := range tasks.SortedKeys(d.Inputs) {
		input := d.Inputs[name]
		value, ok := resolved[name]
		if !ok || value == nil {
			if input.Default != nil {
				resolved[name] = input.Default
				continue
			}
			if input.Required {
				result = multierror.Append(result, errors.Errorf("missing required input %q", name))
			}
			continue
		}
		if input.Type != "" {
			if err := checkType(input.Type, value); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "input %q", name))
			}
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// MetadataList splits a comma-separated metadata value such as
// metadata.skills into its entries.
func (d *Definition) MetadataList(key string) []string {
	var out []string
	for _, item := range strings.Split(d.Metadata[key], ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func checkType(t InputType, v any) error {
	ok := true
	switch t {
	case TypeString:
		_, ok = v.(string)
	case TypeBoolean:
		_, ok = v.(bool)
	case TypeNumber:
		switch v.(type) {
		case int, int64, float64, float32, int32, uint, uint64:
		default:
			ok = false
		}
	case TypeArray:
		switch v.(type) {
		case []any, []string:
		default:
			ok = false
		}
	case TypeObject:
		_, ok = v.(map[string]any)
	}
	if !ok {
		return errors.Errorf("expected %s, got %T", t, v)
	}
	return nil
}

// flatten renders a multierror on one line.
func flatten(err error) string {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		parts := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			parts = append(parts, e.Error())
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}
