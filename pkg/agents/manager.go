package agents

import (
	"context"

	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/logger"
)

// AgentManager holds the validated agent profiles of a catalog
type AgentManager struct {
	processor *AgentProcessor
	agents    map[string]*Agent
	names     []string
}

// NewAgentManager creates a manager backed by processor
func NewAgentManager(processor *AgentProcessor) *AgentManager {
	return &AgentManager{
		processor: processor,
		agents:    make(map[string]*Agent),
	}
}

// LoadAllAgents loads and validates every agent, skipping invalid profiles
func (am *AgentManager) LoadAllAgents(ctx context.Context) error {
	agents, err := am.processor.ListAgents(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list agents")
	}

	loaded := make(map[string]*Agent, len(agents))
	names := make([]string, 0, len(agents))
	for _, agent := range agents {
		if err := am.processor.ValidateAgent(agent); err != nil {
			logger.G(ctx).WithField("agent", agent.Metadata.Name).WithError(err).Warn("Invalid agent configuration, skipping")
			continue
		}

		loaded[agent.Metadata.Name] = agent
		names = append(names, agent.Metadata.Name)

		logger.G(ctx).WithFields(map[string]interface{}{
			"agent":    agent.Metadata.Name,
			"provider": agent.Metadata.Provider,
			"model":    agent.Metadata.Model,
		}).Debug("Registered agent profile")
	}

	am.agents = loaded
	am.names = names

	logger.G(ctx).WithField("count", len(loaded)).Info("Loaded agent profiles")
	return nil
}

// GetAgent returns a specific agent by name
func (am *AgentManager) GetAgent(name string) (*Agent, error) {
	agent, ok := am.agents[name]
	if !ok {
		return nil, errors.Errorf("agent '%s' not found", name)
	}
	return agent, nil
}

// Agents returns the loaded agents sorted by name
func (am *AgentManager) Agents() []*Agent {
	result := make([]*Agent, 0, len(am.names))
	for _, name := range am.names {
		result = append(result, am.agents[name])
	}
	return result
}

// ListAgentNames returns the names of all loaded agents
func (am *AgentManager) ListAgentNames() []string {
	return append([]string(nil), am.names...)
}

// Has reports whether an agent with name is loaded
func (am *AgentManager) Has(name string) bool {
	_, ok := am.agents[name]
	return ok
}

// Load creates an agent manager over the given processor and loads all agents
func Load(ctx context.Context, processor *AgentProcessor) (*AgentManager, error) {
	manager := NewAgentManager(processor)
	if err := manager.LoadAllAgents(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load agents")
	}
	return manager, nil
}
