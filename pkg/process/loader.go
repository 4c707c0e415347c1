package process

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no process has the requested id.
var ErrNotFound = errors.New("process not found")

const filePattern = "**/*.{yaml,yml}"

// Parse decodes a process definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, errors.Wrap(err, "failed to decode process definition")
	}
	return &def, nil
}

// LoadFile reads and parses a process definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	def.Path = path
	return def, nil
}

// Registry indexes the process definitions found in a set of directories.
type Registry struct {
	dirs      []string
	processes map[string]*Definition
	problems  *multierror.Error
}

// NewRegistry creates a registry over dirs, highest precedence first.
func NewRegistry(dirs ...string) *Registry {
	return &Registry{dirs: dirs, processes: make(map[string]*Definition)}
}

// Dirs returns the directories searched.
func (r *Registry) Dirs() []string {
	return append([]string(nil), r.dirs...)
}

// Files returns every definition file under the registry's directories.
func (r *Registry) Files() ([]string, error) {
	var files []string
	for _, dir := range r.dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(dir), filePattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", dir)
		}
		sort.Strings(matches)
		for _, m := range matches {
			files = append(files, filepath.Join(dir, filepath.FromSlash(m)))
		}
	}
	return files, nil
}

// Load (re)reads every definition. Files that fail to parse or validate,
// and ids defined twice, are recorded as problems; loading continues.
func (r *Registry) Load() error {
	files, err := r.Files()
	if err != nil {
		return err
	}

	processes := make(map[string]*Definition)
	var problems *multierror.Error
	for _, file := range files {
		def, err := LoadFile(file)
		if err != nil {
			problems = multierror.Append(problems, err)
			continue
		}
		if err := def.Validate(); err != nil {
			problems = multierror.Append(problems, errors.Wrapf(err, "%s: invalid process", file))
			continue
		}
		if existing, ok := processes[def.ID]; ok {
			problems = multierror.Append(problems, errors.Errorf(
				"process %q defined in both %s and %s", def.ID, existing.Path, file))
			continue
		}
		processes[def.ID] = def
	}

	r.processes = processes
	r.problems = problems
	return nil
}

// Problems returns the errors collected by the last Load.
func (r *Registry) Problems() error {
	return r.problems.ErrorOrNil()
}

// Get returns the process with id.
func (r *Registry) Get(id string) (*Definition, error) {
	def, ok := r.processes[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", id)
	}
	return def, nil
}

// List returns all loaded processes sorted by id.
func (r *Registry) List() []*Definition {
	result := make([]*Definition, 0, len(r.processes))
	for _, def := range r.processes {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Add registers def directly, replacing any process with the same id.
func (r *Registry) Add(def *Definition) error {
	if err := def.Validate(); err != nil {
		return errors.Wrapf(err, "invalid process %q", def.ID)
	}
	r.processes[def.ID] = def
	return nil
}
