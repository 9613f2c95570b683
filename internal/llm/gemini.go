package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiEmbeddingModel = "text-embedding-004"

type GeminiClient struct {
	client          *genai.Client
	model           string
	embeddingModel  string
	temperature     float32
	maxOutputTokens int32
}

func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultGeminiEmbeddingModel
	}
	return &GeminiClient{
		client:          client,
		model:           cfg.Model,
		embeddingModel:  embeddingModel,
		temperature:     float32(cfg.Temperature),
		maxOutputTokens: int32(cfg.MaxOutputTokens),
	}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(c.temperature)
	if c.maxOutputTokens > 0 {
		model.SetMaxOutputTokens(c.maxOutputTokens)
	}
	if prompt.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(prompt.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt.User))
	if err != nil {
		return "", &Error{Provider: "gemini", Op: "generate content", Err: err}
	}
	text := geminiText(resp)
	if text == "" {
		return "", &Error{Provider: "gemini", Op: "generate content", Err: errors.New("empty response")}
	}
	return text, nil
}

func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := c.client.EmbeddingModel(c.embeddingModel)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, &Error{Provider: "gemini", Op: "embed contents", Err: err}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &Error{Provider: "gemini", Op: "embed contents", Err: fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))}
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, embedding := range resp.Embeddings {
		out[i] = embedding.Values
	}
	return out, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
