package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/a5c-ai/babysitter/pkg/agents"
	"github.com/a5c-ai/babysitter/pkg/config"
	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/tasks"
)

const defaultSystemPrompt = `You are a careful software engineering agent executing one step of an orchestrated process.
Follow the task instructions exactly and reply with a single JSON object.`

// AgentDispatcher runs agent tasks against the provider named by the task's
// agent profile, or the configured default provider.
type AgentDispatcher struct {
	cfg       config.Config
	agents    *agents.AgentManager
	providers *Providers
}

// AgentDispatcherOption configures an AgentDispatcher.
type AgentDispatcherOption func(*AgentDispatcher)

// WithAgents resolves agent profiles from manager.
func WithAgents(manager *agents.AgentManager) AgentDispatcherOption {
	return func(d *AgentDispatcher) {
		d.agents = manager
	}
}

// WithProviders replaces the provider cache, mainly for tests.
func WithProviders(providers *Providers) AgentDispatcherOption {
	return func(d *AgentDispatcher) {
		d.providers = providers
	}
}

// NewAgentDispatcher creates an agent dispatcher.
func NewAgentDispatcher(cfg config.Config, opts ...AgentDispatcherOption) *AgentDispatcher {
	d := &AgentDispatcher{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	if d.providers == nil {
		d.providers = NewProviders(cfg)
	}
	return d
}

// resolve builds the provider name and completion settings for a task.
func (d *AgentDispatcher) resolve(task *tasks.Prepared) (string, Completion, error) {
	providerName := strings.ToLower(d.cfg.Provider)
	if providerName == "" {
		providerName = ProviderAnthropic
	}
	c := Completion{
		System:    defaultSystemPrompt,
		Prompt:    task.Prompt,
		MaxTokens: d.cfg.MaxTokens,
		Schema:    task.Schema.Model(),
	}
	if d.cfg.Temperature > 0 {
		t := d.cfg.Temperature
		c.Temperature = &t
	}

	var agentModel string
	if task.AgentName != "" {
		if d.agents == nil {
			return "", c, errors.Errorf("task %s uses agent %q but no agents are loaded", task.Name, task.AgentName)
		}
		agent, err := d.agents.GetAgent(task.AgentName)
		if err != nil {
			return "", c, errors.Wrapf(err, "task %s", task.Name)
		}
		meta := agent.Metadata
		c.System = agent.SystemPrompt
		if meta.Provider != "" {
			providerName = meta.Provider
		}
		agentModel = meta.Model
		if meta.MaxTokens > 0 {
			c.MaxTokens = meta.MaxTokens
		}
		if meta.Temperature != nil {
			c.Temperature = meta.Temperature
		}
	}

	switch {
	case agentModel != "":
		c.Model = agentModel
	case d.cfg.Model != "" && providerName == strings.ToLower(d.cfg.Provider):
		c.Model = d.cfg.Model
	default:
		c.Model = DefaultModels[providerName]
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8192
	}

	return providerName, c, nil
}

// Dispatch implements Dispatcher.
func (d *AgentDispatcher) Dispatch(ctx context.Context, req Request) (json.RawMessage, error) {
	task := req.Task
	providerName, completion, err := d.resolve(task)
	if err != nil {
		return nil, err
	}

	provider, err := d.providers.Get(ctx, providerName)
	if err != nil {
		return nil, err
	}

	log := logger.G(ctx).WithFields(logrus.Fields{
		"task":     task.Name,
		"agent":    task.AgentName,
		"provider": providerName,
		"model":    completion.Model,
	})
	log.Debug("dispatching agent task")

	var result json.RawMessage
	err = withRetry(ctx, d.cfg.Retry, func() error {
		text, err := provider.Complete(ctx, completion)
		if err != nil {
			return err
		}

		obj, err := ExtractJSON([]byte(text))
		if err != nil {
			return errors.Wrapf(ErrMalformedOutput, "task %s: %v", task.Name, err)
		}
		if _, err := tasks.ValidateOutput(task.Schema, obj); err != nil {
			return errors.Wrapf(ErrMalformedOutput, "task %s: %v", task.Name, err)
		}

		result = obj
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "agent task %s failed", task.Name)
	}

	log.Debug("agent task completed")
	return result, nil
}
