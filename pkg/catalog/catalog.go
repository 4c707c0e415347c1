// Package catalog cross-checks the backlog: mapping tables that assign skills
// and agents to processes, the skill and agent catalogs themselves, and the
// skills/agents each process definition declares in its metadata.
package catalog

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/a5c-ai/babysitter/pkg/agents"
	"github.com/a5c-ai/babysitter/pkg/process"
	"github.com/a5c-ai/babysitter/pkg/skills"
)

// Index is the set of names known to the runtime.
type Index struct {
	Skills    map[string]*skills.Skill
	Agents    map[string]*agents.Agent
	Processes map[string]*process.Definition
}

// NewIndex builds an index from loaded catalogs.
func NewIndex(skillSet map[string]*skills.Skill, agentList []*agents.Agent, processes []*process.Definition) *Index {
	idx := &Index{
		Skills:    skillSet,
		Agents:    make(map[string]*agents.Agent, len(agentList)),
		Processes: make(map[string]*process.Definition, len(processes)),
	}
	if idx.Skills == nil {
		idx.Skills = map[string]*skills.Skill{}
	}
	for _, a := range agentList {
		idx.Agents[a.Metadata.Name] = a
	}
	for _, p := range processes {
		idx.Processes[p.ID] = p
	}
	return idx
}

// Report is the outcome of Check. Errors are dangling references to skills
// or agents; Warnings are mappings for processes that are not installed.
type Report struct {
	Mappings int
	Errors   *multierror.Error
	Warnings []string
}

// Err returns the aggregated errors, or nil.
func (r *Report) Err() error {
	return r.Errors.ErrorOrNil()
}

// Check verifies every reference made by mappings, processes, skills and
// agents resolves against idx.
func Check(mappings []Mapping, idx *Index) *Report {
	report := &Report{Mappings: len(mappings)}
	fail := func(format string, args ...any) {
		report.Errors = multierror.Append(report.Errors, fmt.Errorf(format, args...))
	}

	for _, m := range mappings {
		for _, s := range m.Skills {
			if _, ok := idx.Skills[s]; !ok {
				fail("%s: process %s references unknown skill %q", m.Source, m.Process, s)
			}
		}
		for _, a := range m.Agents {
			if _, ok := idx.Agents[a]; !ok {
				fail("%s: process %s references unknown agent %q", m.Source, m.Process, a)
			}
		}
		if _, ok := idx.Processes[m.Process]; !ok {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: process %s is not installed", m.Source, m.Process))
		}
	}

	for _, id := range sortedKeys(idx.Processes) {
		def := idx.Processes[id]
		for _, s := range def.MetadataList("skills") {
			if _, ok := idx.Skills[s]; !ok {
				fail("process %s: metadata.skills names undefined skill %q", id, s)
			}
		}
		for _, a := range def.MetadataList("agents") {
			if _, ok := idx.Agents[a]; !ok {
				fail("process %s: metadata.agents names undefined agent %q", id, a)
			}
		}
		for _, name := range sortedKeys(def.Tasks) {
			task := def.Tasks[name]
			if task == nil || task.Agent == nil || task.Agent.Name == "" {
				continue
			}
			if _, ok := idx.Agents[task.Agent.Name]; !ok {
				fail("process %s: task %s uses undefined agent %q", id, name, task.Agent.Name)
			}
		}
	}

	for _, name := range sortedKeys(idx.Skills) {
		for _, a := range idx.Skills[name].Agents {
			if _, ok := idx.Agents[a]; !ok {
				fail("skill %s: lists undefined agent %q", name, a)
			}
		}
	}

	for _, name := range sortedKeys(idx.Agents) {
		for _, s := range idx.Agents[name].Metadata.Skills {
			if _, ok := idx.Skills[s]; !ok {
				fail("agent %s: lists undefined skill %q", name, s)
			}
		}
	}

	return report
}

// ForProcess returns the mappings that mention process id.
func ForProcess(mappings []Mapping, id string) []Mapping {
	var out []Mapping
	for _, m := range mappings {
		if m.Process == id {
			out = append(out, m)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
