package process

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const examplesDir = "../../examples/processes"

func TestRegistry_LoadExamples(t *testing.T) {
	registry := NewRegistry(examplesDir)
	require.NoError(t, registry.Load())
	require.NoError(t, registry.Problems())

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, "methodologies/spec-driven", list[0].ID)
	assert.Equal(t, "specializations/devops/container-hardening", list[1].ID)

	def, err := registry.Get("methodologies/spec-driven")
	require.NoError(t, err)
	assert.Len(t, def.Phases, 4)
	assert.True(t, def.Phases[1].IsBreakpoint())
	require.NotNil(t, def.Phases[3].FailWhen)
	assert.Equal(t, false, def.Phases[3].FailWhen.Equals)
	assert.Equal(t, []string{"spec-writer", "tech-lead", "qa-reviewer"}, def.MetadataList("agents"))
	assert.Equal(t, filepath.Join(examplesDir, "methodologies", "spec-driven.yaml"), def.Path)

	_, err = registry.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistry_Problems(t *testing.T) {
	dir := t.TempDir()
	valid := `
id: demo
phases:
  - name: ask
    breakpoint:
      question: ok?
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(valid), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.yml"), []byte(valid), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("id: bad\nunknownField: 1\n"), 0o644))

	registry := NewRegistry(dir)
	require.NoError(t, registry.Load())

	assert.Len(t, registry.List(), 1)
	problems := registry.Problems()
	require.Error(t, problems)
	assert.Contains(t, problems.Error(), `process "demo" defined in both`)
	assert.Contains(t, problems.Error(), "unknownField")
}

func TestDefinition_Validate(t *testing.T) {
	def, err := Parse([]byte(`
id: Bad ID
inputs:
  n:
    type: number
    default: nope
  x:
    type: weird
tasks:
  broken:
    kind: shell
phases:
  - name: one
    task: missing
  - name: one
    breakpoint:
      question: ""
  - task: broken
    breakpoint:
      question: q
  - name: gate
    breakpoint:
      question: q
    failWhen:
      equals: true
`))
	require.NoError(t, err)

	err = def.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"must be lowercase kebab-case",
		"input n: default expected number",
		`input x: unknown type "weird"`,
		"task broken: shell task requires shell.command",
		`phase "one": unknown task "missing"`,
		`phase "one": duplicate phase name`,
		`phase "one": breakpoint question is required`,
		"phase 3: name is required",
		"phase 3: must declare either task or breakpoint, not both",
		`phase "gate": failWhen only applies to task phases`,
		`phase "gate": failWhen.field is required`,
	} {
		assert.Contains(t, msg, want)
	}

	empty := &Definition{ID: "empty"}
	require.Error(t, empty.Validate())
	assert.Contains(t, empty.Validate().Error(), "at least one phase is required")
}

func TestDefinition_ResolveInputs(t *testing.T) {
	registry := NewRegistry(examplesDir)
	require.NoError(t, registry.Load())
	def, err := registry.Get("methodologies/spec-driven")
	require.NoError(t, err)

	given := map[string]any{"feature": "login"}
	resolved, err := def.ResolveInputs(given)
	require.NoError(t, err)
	assert.Equal(t, "login", resolved["feature"])
	assert.Equal(t, "engineering", resolved["audience"])
	assert.Equal(t, []any{}, resolved["constraints"])
	assert.Len(t, given, 1)

	_, err = def.ResolveInputs(map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required input "feature"`)

	_, err = def.ResolveInputs(map[string]any{"feature": 42.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string")

	resolved, err = def.ResolveInputs(map[string]any{"feature": "x", "extra": true})
	require.NoError(t, err)
	assert.Equal(t, true, resolved["extra"])
}

func TestRegistry_Add(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Load())
	assert.Empty(t, registry.List())

	err := registry.Add(&Definition{ID: "x"})
	assert.Error(t, err)

	require.NoError(t, registry.Add(&Definition{
		ID:     "x",
		Phases: []Phase{{Name: "p", Breakpoint: &BreakpointSpec{Question: "go?"}}},
	}))
	_, err = registry.Get("x")
	assert.NoError(t, err)
}
