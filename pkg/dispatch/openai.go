package dispatch

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/a5c-ai/babysitter/pkg/config"
)

// OpenAIProvider completes prompts with the Chat Completions API of OpenAI or
// any compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider. An empty API key falls back to
// OPENAI_API_KEY.
func NewOpenAIProvider(cfg config.OpenAIConfig) *OpenAIProvider {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	} else if baseURL := os.Getenv("OPENAI_API_BASE"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &OpenAIProvider{client: openai.NewClientWithConfig(clientConfig)}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, c Completion) (string, error) {
	var messages []openai.ChatCompletionMessage
	if c.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: c.Prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:     c.Model,
		Messages:  messages,
		MaxTokens: c.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if c.Temperature != nil {
		req.Temperature = float32(*c.Temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "openai request failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		return choice.Message.Content, errors.Errorf("response truncated at %d max tokens", c.MaxTokens)
	}
	return choice.Message.Content, nil
}

func isOpenAIRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return true
		case apiErr.HTTPStatusCode >= 500 && apiErr.HTTPStatusCode <= 599:
			return true
		}
		return false
	}

	var reqErr *openai.RequestError
	return errors.As(err, &reqErr)
}
