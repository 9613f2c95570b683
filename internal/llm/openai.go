package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

type OpenAIClient struct {
	client          *openai.Client
	model           string
	embeddingModel  string
	temperature     float32
	maxOutputTokens int
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultOpenAIEmbeddingModel
	}
	return &OpenAIClient{
		client:          openai.NewClientWithConfig(clientConfig),
		model:           cfg.Model,
		embeddingModel:  embeddingModel,
		temperature:     float32(cfg.Temperature),
		maxOutputTokens: cfg.MaxOutputTokens,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.User})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxOutputTokens,
	})
	if err != nil {
		return "", &Error{Provider: "openai", Op: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: "openai", Op: "chat completion", Err: errors.New("no choices returned")}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &Error{Provider: "openai", Op: "chat completion", Err: errors.New("empty response")}
	}
	return text, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, &Error{Provider: "openai", Op: "create embeddings", Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &Error{Provider: "openai", Op: "create embeddings", Err: fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))}
	}
	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, &Error{Provider: "openai", Op: "create embeddings", Err: fmt.Errorf("embedding index %d out of range", item.Index)}
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}
