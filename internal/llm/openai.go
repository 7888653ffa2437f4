package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

// OpenAIOptions configures OpenAI-compatible clients.
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	Dimensions     int
	RequestOptions []option.RequestOption
}

func (o OpenAIOptions) clientOptions() []option.RequestOption {
	opts := make([]option.RequestOption, 0, len(o.RequestOptions)+2)
	if o.APIKey != "" {
		opts = append(opts, option.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	return append(opts, o.RequestOptions...)
}

// OpenAIModel calls the chat completions API.
type OpenAIModel struct {
	client openai.Client
	model  string
}

// NewOpenAIModel constructs a chat model client.
func NewOpenAIModel(opts OpenAIOptions) *OpenAIModel {
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIModel{client: openai.NewClient(opts.clientOptions()...), model: model}
}

// Name identifies the provider in logs and metrics.
func (m *OpenAIModel) Name() string { return "openai" }

// Complete returns the first choice's content.
func (m *OpenAIModel) Complete(ctx context.Context, p models.Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	messages = append(messages, openai.UserMessage(p.User))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(m.model),
		Messages:    messages,
		Temperature: openai.Float(0),
	}
	if p.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(p.MaxTokens))
	}
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("openai chat completion returned empty content")
	}
	return content, nil
}

// OpenAIEmbedder produces embeddings with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder constructs an embedder client.
func NewOpenAIEmbedder(opts OpenAIOptions) *OpenAIEmbedder {
	model := opts.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{client: openai.NewClient(opts.clientOptions()...), model: model, dimensions: opts.Dimensions}
}

// Embed returns the embedding of text as float32 values.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embed: empty text")
	}
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormat("float"),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai embeddings returned no vector")
	}
	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}
