package dispatch

import (
	"context"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/config"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// DefaultModels is the model used for each provider when neither the agent
// profile nor the configuration names one.
var DefaultModels = map[string]string{
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderOpenAI:    "gpt-4.1",
	ProviderGoogle:    "gemini-2.5-pro",
}

// Completion is a single structured-output request to a model.
type Completion struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature *float64
	Schema      *jsonschema.Schema
}

// Provider sends one completion request and returns the model's text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, c Completion) (string, error)
}

// NewProvider creates the named provider from configuration.
func NewProvider(ctx context.Context, name string, cfg config.Config) (Provider, error) {
	switch strings.ToLower(name) {
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg.Anthropic), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAI), nil
	case ProviderGoogle:
		return NewGoogleProvider(ctx, cfg.Google)
	default:
		return nil, errors.Errorf("unsupported provider: %s", name)
	}
}

// Providers lazily creates and caches one Provider per name.
type Providers struct {
	mu      sync.Mutex
	cfg     config.Config
	factory func(ctx context.Context, name string, cfg config.Config) (Provider, error)
	cache   map[string]Provider
}

// NewProviders returns a cache backed by NewProvider.
func NewProviders(cfg config.Config) *Providers {
	return &Providers{cfg: cfg, factory: NewProvider, cache: map[string]Provider{}}
}

// StaticProviders returns a cache that only serves the given providers.
func StaticProviders(providers ...Provider) *Providers {
	p := &Providers{
		cache: map[string]Provider{},
		factory: func(_ context.Context, name string, _ config.Config) (Provider, error) {
			return nil, errors.Errorf("unsupported provider: %s", name)
		},
	}
	for _, provider := range providers {
		p.cache[provider.Name()] = provider
	}
	return p
}

// Get returns the provider for name, creating it on first use.
func (p *Providers) Get(ctx context.Context, name string) (Provider, error) {
	name = strings.ToLower(name)
	p.mu.Lock()
	defer p.mu.Unlock()

	if provider, ok := p.cache[name]; ok {
		return provider, nil
	}
	provider, err := p.factory(ctx, name, p.cfg)
	if err != nil {
		return nil, err
	}
	p.cache[name] = provider
	return provider, nil
}
