package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicOptions configures the Anthropic client.
type AnthropicOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestOptions []option.RequestOption
}

// AnthropicModel calls the Messages API.
type AnthropicModel struct {
	client anthropic.Client
	model  string
}

// NewAnthropicModel constructs a Messages API client.
func NewAnthropicModel(opts AnthropicOptions) *AnthropicModel {
	clientOpts := make([]option.RequestOption, 0, len(opts.RequestOptions)+2)
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	clientOpts = append(clientOpts, opts.RequestOptions...)
	model := opts.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicModel{client: anthropic.NewClient(clientOpts...), model: model}
}

// Name identifies the provider in logs and metrics.
func (m *AnthropicModel) Name() string { return "anthropic" }

// Complete concatenates the text blocks of the response.
func (m *AnthropicModel) Complete(ctx context.Context, p models.Prompt) (string, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var parts []string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	content := strings.TrimSpace(strings.Join(parts, ""))
	if content == "" {
		return "", errors.New("anthropic messages returned no text")
	}
	return content, nil
}
