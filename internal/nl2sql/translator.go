package nl2sql

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aquamitra/aquamitra/internal/llm"
	"github.com/aquamitra/aquamitra/internal/schema"
)

type Request struct {
	Question string
	Schema   schema.Schema
}

type Result struct {
	SQL string
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// LLMTranslator asks a completion model for one SQL statement using the
// fixed schema-aware instruction.
type LLMTranslator struct {
	Completer llm.Completer
}

func NewLLMTranslator(completer llm.Completer) *LLMTranslator {
	return &LLMTranslator{Completer: completer}
}

func (t *LLMTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if t.Completer == nil {
		return Result{}, fmt.Errorf("completer is required")
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	raw, err := t.Completer.Complete(ctx, llm.Prompt{
		System: SystemPrompt(req.Schema),
		User:   UserPrompt(question),
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate sql: %w", err)
	}
	sql := extractSQL(raw)
	if sql == "" {
		return Result{}, fmt.Errorf("model returned empty SQL")
	}
	return Result{SQL: sql}, nil
}

var statementStart = regexp.MustCompile(`(?i)\b(select|with)\b`)

// extractSQL drops code fences, leading prose and a "SQLQuery:" label that
// some models echo back from the examples.
func extractSQL(raw string) string {
	text := llm.StripCodeFence(raw)
	if idx := strings.Index(strings.ToLower(text), "sqlquery:"); idx >= 0 {
		text = text[idx+len("sqlquery:"):]
	}
	if loc := statementStart.FindStringIndex(text); loc != nil {
		text = text[loc[0]:]
	}
	if idx := strings.Index(strings.ToLower(text), "\nsqlresult:"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
