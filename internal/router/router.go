// Package router sends each question to exactly one answering tool.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aquamitra/aquamitra/internal/observability"
	"github.com/aquamitra/aquamitra/internal/tool"
)

type Choice struct {
	Name        string
	Description string
}

// Selector picks the index of one choice for a question.
type Selector interface {
	Select(ctx context.Context, question string, choices []Choice) (int, error)
}

type Router struct {
	tools    []tool.Tool
	choices  []Choice
	selector Selector
	logger   *slog.Logger
}

func New(selector Selector, logger *slog.Logger, tools ...tool.Tool) (*Router, error) {
	if selector == nil {
		return nil, errors.New("selector is required")
	}
	if len(tools) == 0 {
		return nil, errors.New("at least one tool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	seen := map[string]bool{}
	choices := make([]Choice, len(tools))
	for i, t := range tools {
		if seen[t.Name()] {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		seen[t.Name()] = true
		choices[i] = Choice{Name: t.Name(), Description: t.Description()}
	}
	return &Router{tools: tools, choices: choices, selector: selector, logger: logger}, nil
}

func (r *Router) Choices() []Choice {
	return append([]Choice(nil), r.choices...)
}

// Route selects one tool and delegates the whole question to it. A tool
// failure is returned as is; the other tool is never tried.
func (r *Router) Route(ctx context.Context, question string) (tool.Result, error) {
	idx, err := r.selector.Select(ctx, question, r.choices)
	if err != nil {
		return tool.Result{}, fmt.Errorf("select tool: %w", err)
	}
	if idx < 0 || idx >= len(r.tools) {
		return tool.Result{}, fmt.Errorf("select tool: index %d out of range", idx)
	}
	selected := r.tools[idx]
	observability.IncrementRoutedQuestion(selected.Name())
	r.logger.DebugContext(ctx, "question routed", append(observability.RequestAttrs(ctx), "tool", selected.Name())...)

	result, err := selected.Answer(ctx, question)
	result.Tool = selected.Name()
	if err != nil {
		return result, fmt.Errorf("%s tool: %w", selected.Name(), err)
	}
	return result, nil
}
