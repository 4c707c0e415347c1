// Package skills discovers the skill catalog. A skill is a directory
// containing a SKILL.md file whose YAML frontmatter describes the capability
// and whose body holds the instructions handed to agents that use it.
package skills

// Skill represents a discovered skill with its metadata
type Skill struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	ID           string   `json:"id,omitempty"`
	Category     string   `json:"category,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	Agents       []string `json:"agents,omitempty"`
	Directory    string   `json:"directory"`
	Content      string   `json:"-"`
}

// Metadata represents the YAML frontmatter in SKILL.md files
type Metadata struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	ID           string   `yaml:"id"`
	Category     string   `yaml:"category"`
	Capabilities []string `yaml:"capabilities"`
	Priority     string   `yaml:"priority"`
	Agents       []string `yaml:"agents"`
}

// validPriorities are the backlog priority levels, most urgent first.
var validPriorities = []string{"P0", "P1", "P2", "P3"}
