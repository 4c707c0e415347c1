package dispatch

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/config"
)

// AnthropicProvider completes prompts with the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a provider. An empty API key falls back to
// ANTHROPIC_API_KEY, which the SDK reads itself.
func NewAnthropicProvider(cfg config.AnthropicConfig) *AnthropicProvider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	// retries are handled by the dispatcher
	opts = append(opts, option.WithMaxRetries(0))

	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, c Completion) (string, error) {
	params := anthropic.MessageNewParams{
		MaxTokens: int64(c.MaxTokens),
		Model:     anthropic.Model(c.Model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(c.Prompt)),
		},
	}
	if c.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.System}}
	}
	if c.Temperature != nil {
		params.Temperature = anthropic.Float(*c.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "anthropic request failed")
	}

	var out strings.Builder
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.WriteString(b.Text)
		}
	}
	if resp.StopReason == anthropic.StopReasonMaxTokens {
		return out.String(), errors.Errorf("response truncated at %d max tokens", c.MaxTokens)
	}
	return out.String(), nil
}

func isAnthropicRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 408 || apiErr.StatusCode == 409 ||
			apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
