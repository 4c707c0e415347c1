package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// Data is the state templates are rendered against.
type Data struct {
	Inputs    map[string]any `json:"inputs"`
	Args      map[string]any `json:"args,omitempty"`
	Results   map[string]any `json:"results"`
	Artifacts []any          `json:"artifacts"`
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
	"join": func(sep string, v any) string {
		switch items := v.(type) {
		case []string:
			return strings.Join(items, sep)
		case []any:
			parts := make([]string, 0, len(items))
			for _, item := range items {
				parts = append(parts, fmt.Sprint(item))
			}
			return strings.Join(parts, sep)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	},
	"default": func(fallback, v any) any {
		if v == nil {
			return fallback
		}
		if s, ok := v.(string); ok && s == "" {
			return fallback
		}
		return v
	},
}

// Render executes tmpl against data. Missing values render as empty.
func Render(tmpl string, data Data) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("task").Option("missingkey=zero").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse template %q", tmpl)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "failed to execute template %q", tmpl)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

var bareReference = regexp.MustCompile(`^\{\{-?\s*\.([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_-]+)*)\s*-?\}\}$`)

// RenderValue renders templates nested in v. A string that is exactly one
// field reference such as "{{ .Inputs.files }}" yields the referenced value
// unchanged, so arrays and objects pass through with their types.
func RenderValue(v any, data Data) (any, error) {
	switch value := v.(type) {
	case string:
		if m := bareReference.FindStringSubmatch(strings.TrimSpace(value)); m != nil {
			return Lookup(data, m[1]), nil
		}
		return Render(value, data)
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, errors.Wrapf(err, "field %s", k)
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(value))
		for i, item := range value {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, errors.Wrapf(err, "item %d", i)
			}
			out = append(out, rendered)
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderArgs renders every value of args.
func RenderArgs(args map[string]any, data Data) (map[string]any, error) {
	rendered, err := RenderValue(toAnyMap(args), data)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]any), nil
}

// Lookup resolves a dotted path such as "Results.plan.steps" against data.
func Lookup(data Data, path string) any {
	parts := strings.Split(path, ".")
	var current any
	switch parts[0] {
	case "Inputs":
		current = data.Inputs
	case "Args":
		current = data.Args
	case "Results":
		current = data.Results
	case "Artifacts":
		current = data.Artifacts
	default:
		return nil
	}
	return Field(current, strings.Join(parts[1:], "."))
}

// Field resolves a dotted path inside a decoded JSON value.
func Field(v any, path string) any {
	if path == "" {
		return v
	}
	current := v
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

func toAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
