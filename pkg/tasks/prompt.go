package tasks

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Prepared is a task ready for dispatch: templates rendered and the prompt
// assembled.
type Prepared struct {
	Name      string
	Title     string
	Kind      Kind
	Input     map[string]any
	AgentName string
	Prompt    string
	Schema    *Schema
	Command   string
	Args      []string
	Timeout   time.Duration
}

// Prepare renders def against data (whose Args are the phase's rendered
// arguments) and builds the prompt or command line.
func Prepare(name string, def *Definition, data Data) (*Prepared, error) {
	if err := def.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid task %s", name)
	}

	title, err := Render(def.Title, data)
	if err != nil {
		return nil, errors.Wrap(err, "title")
	}
	if title == "" {
		title = name
	}

	p := &Prepared{
		Name:   name,
		Title:  title,
		Kind:   def.EffectiveKind(),
		Input:  data.Args,
		Schema: EnvelopeSchema(),
	}
	if def.OutputSchema != nil && def.OutputSchema.Schema != nil {
		p.Schema = def.OutputSchema
	}

	switch p.Kind {
	case KindShell:
		p.Command, err = Render(def.Shell.Command, data)
		if err != nil {
			return nil, errors.Wrap(err, "shell.command")
		}
		for i, arg := range def.Shell.Args {
			rendered, err := Render(arg, data)
			if err != nil {
				return nil, errors.Wrapf(err, "shell.args[%d]", i)
			}
			p.Args = append(p.Args, rendered)
		}
		p.Timeout = def.Shell.Timeout
		if p.Timeout == 0 {
			p.Timeout = DefaultShellTimeout
		}
	default:
		p.AgentName = def.Agent.Name
		p.Prompt, err = BuildPrompt(def.Agent, p.Schema, data)
		if err != nil {
			return nil, err
		}
	}

	return p, nil
}

// BuildPrompt assembles the agent prompt from role, task, context,
// instructions, output format and the expected JSON schema.
func BuildPrompt(spec *AgentSpec, schema *Schema, data Data) (string, error) {
	var sb strings.Builder

	render := func(field, tmpl string) (string, error) {
		out, err := Render(tmpl, data)
		return out, errors.Wrap(err, field)
	}

	if spec.Role != "" {
		role, err := render("agent.role", spec.Role)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "# Role\n\n%s\n\n", role)
	}

	task, err := render("agent.task", spec.Task)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "# Task\n\n%s\n\n", task)

	fields := map[string]any{}
	for k, v := range data.Args {
		fields[k] = v
	}
	if len(spec.Context) > 0 {
		rendered, err := RenderValue(spec.Context, data)
		if err != nil {
			return "", errors.Wrap(err, "agent.context")
		}
		for k, v := range rendered.(map[string]any) {
			fields[k] = v
		}
	}
	if len(fields) > 0 {
		encoded, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to encode context")
		}
		fmt.Fprintf(&sb, "# Context\n\n```json\n%s\n```\n\n", encoded)
	}

	if len(spec.Instructions) > 0 {
		sb.WriteString("# Instructions\n\n")
		for i, instruction := range spec.Instructions {
			rendered, err := render(fmt.Sprintf("agent.instructions[%d]", i), instruction)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "%d. %s\n", i+1, rendered)
		}
		sb.WriteString("\n")
	}

	if spec.OutputFormat != "" {
		format, err := render("agent.outputFormat", spec.OutputFormat)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "# Output Format\n\n%s\n\n", format)
	}

	if schema != nil {
		encoded, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to encode output schema")
		}
		fmt.Fprintf(&sb, "# Output Schema\n\n```json\n%s\n```\n\n", encoded)
		if required := RequiredFields(schema); len(required) > 0 {
			fmt.Fprintf(&sb, "Required fields: %s.\n\n", strings.Join(required, ", "))
		}
	}

	sb.WriteString("Respond with a single JSON object that conforms to the output schema. Do not include any other text.\n")
	return sb.String(), nil
}

// SortedKeys returns the keys of m in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
