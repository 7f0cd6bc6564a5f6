package enrich

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/pkg/retry"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures an OpenAIBackend.
type OpenAIConfig struct {
	// BaseURL of an OpenAI-compatible API, e.g. "https://api.openai.com/v1"
	// or a local server such as "http://localhost:8080/v1". Empty uses
	// the OpenAI default.
	BaseURL string

	// Model name, defaults to gpt-4o-mini.
	Model string

	// APIKey is optional for local services.
	APIKey string

	Client *http.Client
}

// OpenAIBackend asks an OpenAI-compatible chat completion API for the narrative.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a chat completion backend
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy-key" // Local services don't need a real key
	}

	config := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Client != nil {
		config.HTTPClient = cfg.Client
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Name returns the backend identifier
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// Generate performs one chat completion call
func (b *OpenAIBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You write short, factual earthquake activity briefs."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 160,
	})
	if err != nil {
		return "", errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrEnrichmentFailed, err),
			"OpenAIBackend", "Generate", "create chat completion")
	}

	parts := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", retry.NonRetryable(errors.WrapInvalid(
			errors.ErrNothingExtracted, "OpenAIBackend", "Generate", "read choices"))
	}
	return strings.Join(parts, "\n"), nil
}
