package glossary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aquamitra/aquamitra/internal/llm"
	"github.com/aquamitra/aquamitra/internal/tool"
)

const (
	ToolName = "glossary"

	// NoInformationAnswer is returned when nothing in the corpus is close
	// enough to the question.
	NoInformationAnswer = "The glossary has no information about that."
)

const toolDescription = "Explains groundwater terminology and definitions: what the status categories safe, " +
	"semi_critical, critical and over_exploited mean, what the dataset covers, and what each column means."

const answerSystem = "You explain groundwater terminology. Answer only from the glossary entries provided. " +
	"If they do not answer the question, say that the glossary has no information about it. Keep it short."

type Tool struct {
	Index     *Index
	Completer llm.Completer
	TopK      int
	MinScore  float64
}

func NewTool(index *Index, completer llm.Completer, topK int, minScore float64) *Tool {
	if topK <= 0 {
		topK = 2
	}
	return &Tool{Index: index, Completer: completer, TopK: topK, MinScore: minScore}
}

func (t *Tool) Name() string { return ToolName }

func (t *Tool) Description() string { return toolDescription }

func (t *Tool) Answer(ctx context.Context, question string) (tool.Result, error) {
	if t.Index == nil {
		return tool.Result{}, errors.New("glossary index is not configured")
	}
	matches, err := t.Index.Search(ctx, question, t.TopK)
	if err != nil {
		return tool.Result{}, err
	}
	relevant := matches[:0]
	for _, match := range matches {
		if match.Score >= t.MinScore && match.Score > 0 {
			relevant = append(relevant, match)
		}
	}
	if len(relevant) == 0 {
		return tool.Result{Response: NoInformationAnswer, Tool: ToolName}, nil
	}
	if t.Completer == nil {
		return tool.Result{Response: strings.TrimSpace(relevant[0].Document.Text), Tool: ToolName}, nil
	}

	var entries strings.Builder
	for _, match := range relevant {
		fmt.Fprintf(&entries, "[%s] %s\n", match.Document.Title, strings.TrimSpace(match.Document.Text))
	}
	answer, err := t.Completer.Complete(ctx, llm.Prompt{
		System: answerSystem,
		User:   fmt.Sprintf("Glossary entries:\n%s\nQuestion: %s\nAnswer:", entries.String(), question),
	})
	if err != nil {
		return tool.Result{}, fmt.Errorf("synthesize glossary answer: %w", err)
	}
	return tool.Result{Response: strings.TrimSpace(answer), Tool: ToolName}, nil
}
