// Package llm wraps the completion and embedding providers behind two small
// interfaces so the answering pipeline never depends on a vendor SDK.
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

type Prompt struct {
	System string
	User   string
}

type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	Provider        string
	APIKey          string
	Model           string
	BaseURL         string
	Temperature     float64
	MaxOutputTokens int
	EmbeddingModel  string
}

var codeFencePattern = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_-]*\n)?\\s*(.*?)```")

// StripCodeFence returns the body of the first fenced block, or the trimmed
// input when there is none.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if match := codeFencePattern.FindStringSubmatch(trimmed); len(match) == 2 {
		return strings.TrimSpace(match[1])
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
