// Package agents loads agent profiles: markdown files whose frontmatter names
// the role, expertise, skills and preferred model of an agent, and whose body
// is the system prompt used when a task is dispatched to that agent.
package agents

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/allowlist"
	"github.com/a5c-ai/babysitter/pkg/frontmatter"
	"github.com/a5c-ai/babysitter/pkg/logger"
)

// Providers an agent profile may pin.
var supportedProviders = []string{"anthropic", "openai", "google"}

// AgentMetadata represents the YAML frontmatter configuration for an agent
type AgentMetadata struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Role        string   `yaml:"role" json:"role,omitempty"`
	Expertise   []string `yaml:"expertise" json:"expertise,omitempty"`
	Skills      []string `yaml:"skills" json:"skills,omitempty"`
	Provider    string   `yaml:"provider" json:"provider,omitempty"`       // empty: configured default
	Model       string   `yaml:"model" json:"model,omitempty"`             // empty: configured default
	MaxTokens   int      `yaml:"max_tokens" json:"maxTokens,omitempty"`    // 0: configured default
	Temperature *float64 `yaml:"temperature" json:"temperature,omitempty"` // nil: provider default
}

// Agent represents a loaded agent with its metadata, system prompt, and file path
type Agent struct {
	Metadata     AgentMetadata `json:"metadata"`
	SystemPrompt string        `json:"-"`
	Path         string        `json:"path"`
}

// AgentProcessor handles loading and processing of agent definitions from disk
type AgentProcessor struct {
	agentDirs []string
	allowed   *allowlist.List
}

// AgentProcessorOption configures an AgentProcessor
type AgentProcessorOption func(*AgentProcessor) error

// WithAgentDirs sets custom agent directories
func WithAgentDirs(dirs ...string) AgentProcessorOption {
	return func(ap *AgentProcessor) error {
		if len(dirs) == 0 {
			return errors.New("at least one agent directory must be specified")
		}
		ap.agentDirs = dirs
		return nil
	}
}

// WithAllowlist restricts the processor to agents whose names match entries.
func WithAllowlist(entries []string) AgentProcessorOption {
	return func(ap *AgentProcessor) error {
		list, err := allowlist.New(entries)
		if err != nil {
			return errors.Wrap(err, "invalid agents allowlist")
		}
		ap.allowed = list
		return nil
	}
}

// WithDefaultDirs sets the default agent directories (./.babysitter/agents, ~/.babysitter/agents)
func WithDefaultDirs() AgentProcessorOption {
	return func(ap *AgentProcessor) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		ap.agentDirs = []string{
			"./.babysitter/agents",
			filepath.Join(homeDir, ".babysitter", "agents"),
		}
		return nil
	}
}

// NewAgentProcessor creates a new agent processor with optional configuration
func NewAgentProcessor(opts ...AgentProcessorOption) (*AgentProcessor, error) {
	ap := &AgentProcessor{}

	for _, opt := range opts {
		if err := opt(ap); err != nil {
			return nil, errors.Wrap(err, "failed to apply agent processor option")
		}
	}

	if len(ap.agentDirs) == 0 {
		if err := WithDefaultDirs()(ap); err != nil {
			return nil, errors.Wrap(err, "failed to apply default agent directories")
		}
	}

	return ap, nil
}

// agentFiles returns every markdown file under dir, sorted, except READMEs.
func agentFiles(dir string) []string {
	if _, err := os.Stat(dir); err != nil {
		return nil
	}

	matches, err := doublestar.Glob(os.DirFS(dir), "**/*.md", doublestar.WithFilesOnly())
	if err != nil {
		return nil
	}
	sort.Strings(matches)

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if strings.EqualFold(path.Base(m), "README.md") {
			continue
		}
		files = append(files, filepath.Join(dir, filepath.FromSlash(m)))
	}
	return files
}

// findAgentFile searches for an agent file in the configured directories.
// A file named after the agent wins; otherwise frontmatter names are compared.
func (ap *AgentProcessor) findAgentFile(agentName string) (string, error) {
	for _, dir := range ap.agentDirs {
		for _, name := range []string{agentName + ".md", agentName} {
			fullPath := filepath.Join(dir, name)
			if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
				return fullPath, nil
			}
		}
	}

	for _, dir := range ap.agentDirs {
		for _, file := range agentFiles(dir) {
			if nameOf(file) == agentName {
				return file, nil
			}
		}
	}

	return "", errors.Errorf("agent '%s' not found in directories: %v", agentName, ap.agentDirs)
}

// nameOf returns the agent name declared in file, falling back to its base name.
func nameOf(file string) string {
	fallback := strings.TrimSuffix(filepath.Base(file), ".md")
	if strings.EqualFold(fallback, "AGENT") {
		fallback = filepath.Base(filepath.Dir(file))
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return fallback
	}
	fields, _, err := frontmatter.Parse(content)
	if err != nil {
		return fallback
	}
	if name, ok := fields["name"].(string); ok && name != "" {
		return name
	}
	return fallback
}

// parseAgent decodes the frontmatter and system prompt of an agent file.
func parseAgent(content []byte) (AgentMetadata, string, error) {
	var metadata AgentMetadata

	fields, body, err := frontmatter.Parse(content)
	if errors.Is(err, frontmatter.ErrMissing) {
		return metadata, body, nil
	}
	if err != nil {
		return metadata, "", err
	}

	if err := frontmatter.Decode(fields, &metadata); err != nil {
		return metadata, "", err
	}
	return metadata, body, nil
}

// LoadAgent loads a single agent by name
func (ap *AgentProcessor) LoadAgent(ctx context.Context, agentName string) (*Agent, error) {
	logger.G(ctx).WithField("agent", agentName).Debug("Loading agent")

	if !ap.allowed.Allows(agentName) {
		return nil, errors.Errorf("agent '%s' is not in the allowlist", agentName)
	}

	agentPath, err := ap.findAgentFile(agentName)
	if err != nil {
		return nil, err
	}

	return ap.loadFile(ctx, agentPath, agentName)
}

func (ap *AgentProcessor) loadFile(ctx context.Context, agentPath, fallbackName string) (*Agent, error) {
	logger.G(ctx).WithField("path", agentPath).Debug("Found agent file")

	content, err := os.ReadFile(agentPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read agent file '%s'", agentPath)
	}

	metadata, systemPrompt, err := parseAgent(content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse frontmatter in agent '%s'", agentPath)
	}

	if metadata.Name == "" {
		metadata.Name = fallbackName
	}
	metadata.Provider = strings.ToLower(metadata.Provider)

	return &Agent{
		Metadata:     metadata,
		SystemPrompt: systemPrompt,
		Path:         agentPath,
	}, nil
}

// ListAgents returns all available agents from the configured directories,
// sorted by name. Earlier directories take precedence.
func (ap *AgentProcessor) ListAgents(ctx context.Context) ([]*Agent, error) {
	var agents []*Agent
	seen := make(map[string]bool)

	for _, dir := range ap.agentDirs {
		files := agentFiles(dir)
		if files == nil {
			logger.G(ctx).WithField("dir", dir).Debug("Agent directory not found, skipping")
			continue
		}

		for _, file := range files {
			fallback := strings.TrimSuffix(filepath.Base(file), ".md")
			if strings.EqualFold(fallback, "AGENT") {
				fallback = filepath.Base(filepath.Dir(file))
			}

			agent, err := ap.loadFile(ctx, file, fallback)
			if err != nil {
				logger.G(ctx).WithField("path", file).WithError(err).Warn("Failed to load agent, skipping")
				continue
			}

			name := agent.Metadata.Name
			if seen[name] || !ap.allowed.Allows(name) {
				continue
			}

			agents = append(agents, agent)
			seen[name] = true
		}
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].Metadata.Name < agents[j].Metadata.Name })

	logger.G(ctx).WithField("count", len(agents)).Debug("Loaded agents")
	return agents, nil
}

// ValidateAgent validates that an agent has all required fields and configurations
func (ap *AgentProcessor) ValidateAgent(agent *Agent) error {
	if agent.Metadata.Name == "" {
		return errors.New("agent name is required")
	}
	if agent.Metadata.Description == "" {
		return errors.New("agent description is required")
	}
	if agent.Metadata.Provider != "" && !slices.Contains(supportedProviders, agent.Metadata.Provider) {
		return errors.Errorf("unsupported provider '%s', must be one of: %v", agent.Metadata.Provider, supportedProviders)
	}
	if agent.Metadata.MaxTokens < 0 {
		return errors.New("agent max_tokens must not be negative")
	}
	if t := agent.Metadata.Temperature; t != nil && (*t < 0 || *t > 2) {
		return errors.Errorf("agent temperature %v out of range [0, 2]", *t)
	}
	if strings.TrimSpace(agent.SystemPrompt) == "" {
		return errors.New("agent system prompt cannot be empty")
	}

	return nil
}
