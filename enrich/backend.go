package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/pkg/retry"
)

const maxResponseBytes = 1 << 20

// Backend produces free text for a prompt. Errors wrapped with
// retry.NonRetryable end the attempt sequence early.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// HuggingFaceURL returns the hosted inference endpoint for model
func HuggingFaceURL(model string) string {
	return "https://api-inference.huggingface.co/models/" + strings.TrimPrefix(model, "/")
}

// HTTPConfig configures an HTTPBackend
type HTTPConfig struct {
	URL    string
	APIKey string
	Client *http.Client
}

// HTTPBackend posts the prompt as {"inputs": ..., "parameters": ...} to any
// text-generation endpoint and extracts text from whatever JSON comes back.
type HTTPBackend struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPBackend creates a generic HTTP backend
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "HTTPBackend", "New", "require endpoint url")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{url: cfg.URL, apiKey: cfg.APIKey, client: client}, nil
}

// Name returns the backend identifier
func (b *HTTPBackend) Name() string {
	return "generic"
}

type generateRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Generate performs one call. Non-2xx and transport failures are retryable;
// a 2xx body with nothing extractable is not.
func (b *HTTPBackend) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Inputs: prompt,
		Parameters: map[string]any{
			"max_new_tokens":   160,
			"return_full_text": false,
		},
	})
	if err != nil {
		return "", retry.NonRetryable(errors.Wrap(err, "HTTPBackend", "Generate", "encode request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return "", retry.NonRetryable(errors.Wrap(err, "HTTPBackend", "Generate", "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrEnrichmentFailed, err),
			"HTTPBackend", "Generate", "call endpoint")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrEnrichmentFailed, err),
			"HTTPBackend", "Generate", "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.WrapTransient(
			fmt.Errorf("%w: status %d", errors.ErrEnrichmentFailed, resp.StatusCode),
			"HTTPBackend", "Generate", "call endpoint")
	}

	node, err := ParseNode(body)
	if err != nil {
		return "", retry.NonRetryable(errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrNothingExtracted, err),
			"HTTPBackend", "Generate", "parse response"))
	}

	text := Extract(node)
	if text == "" {
		return "", retry.NonRetryable(errors.WrapInvalid(
			errors.ErrNothingExtracted, "HTTPBackend", "Generate", "extract text"))
	}
	return text, nil
}
