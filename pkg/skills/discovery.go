package skills

import (
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/allowlist"
	"github.com/a5c-ai/babysitter/pkg/frontmatter"
)

const skillFileName = "SKILL.md"

// Discovery handles skill discovery from configured directories
type Discovery struct {
	skillDirs  []string
	pluginDirs []pluginDirConfig
	allowed    *allowlist.List
}

// pluginDirConfig represents a plugin directory with its prefix
type pluginDirConfig struct {
	dir    string
	prefix string
}

// Option is a function that configures a Discovery
type Option func(*Discovery) error

// WithSkillDirs sets custom skill directories, highest precedence first
func WithSkillDirs(dirs ...string) Option {
	return func(d *Discovery) error {
		d.skillDirs = dirs
		return nil
	}
}

// WithPluginsDir adds every "<plugin>/skills" directory found under
// pluginsDir, prefixing skill names with the plugin path.
func WithPluginsDir(pluginsDir string) Option {
	return func(d *Discovery) error {
		d.addPluginDirs(pluginsDir)
		return nil
	}
}

// WithAllowlist restricts discovery to names matching the given entries.
func WithAllowlist(entries []string) Option {
	return func(d *Discovery) error {
		list, err := allowlist.New(entries)
		if err != nil {
			return errors.Wrap(err, "invalid skills allowlist")
		}
		d.allowed = list
		return nil
	}
}

// WithDefaultDirs initializes with the repo-local and user-global skill directories
func WithDefaultDirs() Option {
	return func(d *Discovery) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		d.skillDirs = []string{
			"./.babysitter/skills",
			filepath.Join(homeDir, ".babysitter", "skills"),
		}

		d.pluginDirs = []pluginDirConfig{}
		d.addPluginDirs("./.babysitter/plugins")
		d.addPluginDirs(filepath.Join(homeDir, ".babysitter", "plugins"))

		return nil
	}
}

// addPluginDirs scans a plugins directory and adds all plugin skill directories
// Supports nested org/repo directory structure
func (d *Discovery) addPluginDirs(pluginsDir string) {
	_ = filepath.Walk(pluginsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}

		skillsDir := filepath.Join(path, "skills")
		if _, err := os.Stat(skillsDir); err != nil {
			return nil
		}

		relPath, err := filepath.Rel(pluginsDir, path)
		if err != nil {
			return nil
		}

		pluginName := filepath.ToSlash(relPath)
		d.pluginDirs = append(d.pluginDirs, pluginDirConfig{
			dir:    skillsDir,
			prefix: pluginName + "/",
		})

		return filepath.SkipDir
	})
}

// NewDiscovery creates a new skill discovery instance
func NewDiscovery(opts ...Option) (*Discovery, error) {
	d := &Discovery{}

	if len(opts) == 0 {
		if err := WithDefaultDirs()(d); err != nil {
			return nil, err
		}
	} else {
		for _, opt := range opts {
			if err := opt(d); err != nil {
				return nil, err
			}
		}
	}

	return d, nil
}

// DiscoverSkills finds all available skills from configured directories.
// SKILL.md files are found at any depth; when two skills share a name the
// one from the earlier directory wins. Unreadable skills are skipped, see Lint.
func (d *Discovery) DiscoverSkills() (map[string]*Skill, error) {
	skills := make(map[string]*Skill)

	for _, dir := range d.skillDirs {
		d.discoverSkillsFromDir(dir, "", skills, nil)
	}

	for _, pluginDir := range d.pluginDirs {
		d.discoverSkillsFromDir(pluginDir.dir, pluginDir.prefix, skills, nil)
	}

	return skills, nil
}

// Lint loads every skill file and reports invalid files and names defined
// more than once within the same directory tree.
func (d *Discovery) Lint() error {
	var result *multierror.Error
	for _, dir := range d.skillDirs {
		d.discoverSkillsFromDir(dir, "", make(map[string]*Skill), &result)
	}
	for _, pluginDir := range d.pluginDirs {
		d.discoverSkillsFromDir(pluginDir.dir, pluginDir.prefix, make(map[string]*Skill), &result)
	}
	return result.ErrorOrNil()
}

// discoverSkillsFromDir discovers skills from a directory with optional name prefix
func (d *Discovery) discoverSkillsFromDir(dir, prefix string, skills map[string]*Skill, problems **multierror.Error) {
	if _, err := os.Stat(dir); err != nil {
		return
	}

	matches, err := doublestar.Glob(os.DirFS(dir), "**/"+skillFileName, doublestar.WithFilesOnly())
	if err != nil {
		if problems != nil {
			*problems = multierror.Append(*problems, errors.Wrapf(err, "failed to scan %s", dir))
		}
		return
	}
	sort.Strings(matches)

	for _, match := range matches {
		skillDir := path.Dir(match)
		if skillDir == "." {
			continue
		}
		entryPath := filepath.Join(dir, filepath.FromSlash(skillDir))

		skill, err := d.loadSkill(filepath.Join(entryPath, skillFileName))
		if err != nil {
			if problems != nil {
				*problems = multierror.Append(*problems, errors.Wrapf(err, "skill %s", filepath.Join(dir, match)))
			}
			continue
		}

		skillName := skill.Name
		if prefix != "" {
			skillName = prefix + skill.Name
		}

		if !d.allowed.Allows(skillName) {
			continue
		}

		if existing, exists := skills[skillName]; exists {
			if problems != nil {
				*problems = multierror.Append(*problems, errors.Errorf(
					"skill %q defined in both %s and %s", skillName, existing.Directory, entryPath))
			}
			continue
		}

		skill.Name = skillName
		skill.Directory = entryPath
		skills[skillName] = skill
	}
}

// GetSkill returns a specific skill by name
func (d *Discovery) GetSkill(name string) (*Skill, error) {
	skills, err := d.DiscoverSkills()
	if err != nil {
		return nil, err
	}

	skill, exists := skills[name]
	if !exists {
		return nil, errors.Errorf("skill '%s' not found", name)
	}

	return skill, nil
}

// ListSkillNames returns the sorted names of all available skills
func (d *Discovery) ListSkillNames() ([]string, error) {
	skills, err := d.DiscoverSkills()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// loadSkill loads a single skill from its SKILL.md file
func (d *Discovery) loadSkill(path string) (*Skill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill file")
	}

	fields, body, err := frontmatter.Parse(content)
	if err != nil {
		return nil, err
	}

	var m Metadata
	if err := frontmatter.Decode(fields, &m); err != nil {
		return nil, err
	}

	if m.Name == "" {
		return nil, errors.New("skill name is required in frontmatter")
	}
	if m.Description == "" {
		return nil, errors.New("skill description is required in frontmatter")
	}
	if m.Priority != "" && !slices.Contains(validPriorities, strings.ToUpper(m.Priority)) {
		return nil, errors.Errorf("invalid priority %q, must be one of %v", m.Priority, validPriorities)
	}

	return &Skill{
		Name:         m.Name,
		Description:  m.Description,
		ID:           m.ID,
		Category:     m.Category,
		Capabilities: m.Capabilities,
		Priority:     strings.ToUpper(m.Priority),
		Agents:       m.Agents,
		Content:      body,
	}, nil
}

// ByName returns skills sorted by name.
func ByName(skills map[string]*Skill) []*Skill {
	result := make([]*Skill, 0, len(skills))
	for _, s := range skills {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
