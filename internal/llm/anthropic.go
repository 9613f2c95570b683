package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

type AnthropicClient struct {
	client          *anthropic.Client
	model           string
	maxOutputTokens int
}

func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	maxOutputTokens := cfg.MaxOutputTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = 1024
	}
	return &AnthropicClient{
		client:          anthropic.NewClient(cfg.APIKey),
		model:           cfg.Model,
		maxOutputTokens: maxOutputTokens,
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	user := prompt.User
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    prompt.System,
		MaxTokens: c.maxOutputTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &user},
			}},
		},
	})
	if err != nil {
		return "", &Error{Provider: "anthropic", Op: "create messages", Err: err}
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			b.WriteString(*block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", &Error{Provider: "anthropic", Op: "create messages", Err: errors.New("empty response")}
	}
	return text, nil
}
