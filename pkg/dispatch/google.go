package dispatch

import (
	"context"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/a5c-ai/babysitter/pkg/config"
)

// GoogleProvider completes prompts with Gemini, either through the Gemini API
// or Vertex AI.
type GoogleProvider struct {
	client *genai.Client
}

// NewGoogleProvider creates a provider, picking the backend from configuration
// and the environment.
func NewGoogleProvider(ctx context.Context, cfg config.GoogleConfig) (*GoogleProvider, error) {
	clientConfig := &genai.ClientConfig{}

	switch detectBackend(cfg) {
	case "vertexai":
		clientConfig.Backend = genai.BackendVertexAI
		clientConfig.Project = cfg.Project
		clientConfig.Location = cfg.Location
	default:
		clientConfig.Backend = genai.BackendGeminiAPI
		clientConfig.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Google GenAI client")
	}
	return &GoogleProvider{client: client}, nil
}

func detectBackend(cfg config.GoogleConfig) string {
	if cfg.Backend != "" {
		return strings.ToLower(cfg.Backend)
	}

	if env := os.Getenv("GOOGLE_GENAI_USE_VERTEXAI"); env != "" {
		if strings.EqualFold(env, "true") || env == "1" {
			return "vertexai"
		}
		return "gemini"
	}

	if cfg.APIKey != "" {
		return "gemini"
	}
	if cfg.Project != "" || cfg.Location != "" {
		return "vertexai"
	}
	if os.Getenv("GOOGLE_CLOUD_PROJECT") != "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
		return "vertexai"
	}
	return "gemini"
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return ProviderGoogle }

// Complete implements Provider.
func (p *GoogleProvider) Complete(ctx context.Context, c Completion) (string, error) {
	genConfig := &genai.GenerateContentConfig{
		MaxOutputTokens:  int32(c.MaxTokens),
		ResponseMIMEType: "application/json",
	}
	if c.System != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(c.System, genai.RoleUser)
	}
	if c.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*c.Temperature))
	}
	if schema, ok := convertToGoogleSchema(c.Schema); ok {
		genConfig.ResponseSchema = schema
	}

	resp, err := p.client.Models.GenerateContent(ctx, c.Model, genai.Text(c.Prompt), genConfig)
	if err != nil {
		return "", errors.Wrap(err, "google request failed")
	}
	return resp.Text(), nil
}

// convertToGoogleSchema translates schema into a Gemini response schema.
// It reports false when some node has no Gemini equivalent (an untyped
// value, an object without properties or an array without items); the
// request then relies on the schema in the prompt alone.
func convertToGoogleSchema(schema *jsonschema.Schema) (*genai.Schema, bool) {
	if schema == nil {
		return nil, false
	}
	typ, ok := convertSchemaType(schema.Type)
	if !ok {
		return nil, false
	}
	out := &genai.Schema{
		Type:        typ,
		Description: schema.Description,
		Required:    schema.Required,
	}

	for _, e := range schema.Enum {
		if s, ok := e.(string); ok {
			out.Enum = append(out.Enum, s)
		}
	}

	switch typ {
	case genai.TypeObject:
		if schema.Properties == nil || schema.Properties.Len() == 0 {
			return nil, false
		}
		out.Properties = make(map[string]*genai.Schema, schema.Properties.Len())
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			prop, ok := convertToGoogleSchema(pair.Value)
			if !ok {
				return nil, false
			}
			out.Properties[pair.Key] = prop
			out.PropertyOrdering = append(out.PropertyOrdering, pair.Key)
		}
	case genai.TypeArray:
		items, ok := convertToGoogleSchema(schema.Items)
		if !ok {
			return nil, false
		}
		out.Items = items
	}
	return out, true
}

func convertSchemaType(schemaType string) (genai.Type, bool) {
	switch strings.ToLower(schemaType) {
	case "string":
		return genai.TypeString, true
	case "number":
		return genai.TypeNumber, true
	case "integer":
		return genai.TypeInteger, true
	case "boolean":
		return genai.TypeBoolean, true
	case "array":
		return genai.TypeArray, true
	case "object":
		return genai.TypeObject, true
	default:
		return genai.TypeUnspecified, false
	}
}

func isGoogleRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"service unavailable",
		"quota exceeded",
		"rate limit",
		"too many requests",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
