package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/aquamitra/aquamitra/internal/llm"
)

const (
	GlossaryTool = "glossary"
	SQLTool      = "sql"
)

var (
	selectorJSONRe = regexp.MustCompile(`(?s)\{.*?\}`)
	firstIntegerRe = regexp.MustCompile(`\d+`)
	yearRe         = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

const selectorSystem = "You route questions about Indian groundwater data to exactly one tool. " +
	"Reply with JSON only, for example {\"choice\": 1, \"reason\": \"...\"}."

// LLMSelector asks a completion model to pick a choice. Failures and
// unparseable replies are handed to Fallback.
type LLMSelector struct {
	Completer llm.Completer
	Fallback  Selector
	Logger    *slog.Logger
}

func NewLLMSelector(completer llm.Completer, fallback Selector, logger *slog.Logger) *LLMSelector {
	if fallback == nil {
		fallback = KeywordSelector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSelector{Completer: completer, Fallback: fallback, Logger: logger}
}

func (s *LLMSelector) Select(ctx context.Context, question string, choices []Choice) (int, error) {
	if len(choices) == 1 {
		return 0, nil
	}
	if s.Completer == nil {
		return s.Fallback.Select(ctx, question, choices)
	}
	reply, err := s.Completer.Complete(ctx, llm.Prompt{System: selectorSystem, User: selectorPrompt(question, choices)})
	if err != nil {
		s.Logger.WarnContext(ctx, "llm tool selection failed, using fallback", "error", err)
		return s.Fallback.Select(ctx, question, choices)
	}
	idx, ok := parseChoice(reply, choices)
	if !ok {
		s.Logger.WarnContext(ctx, "unparseable tool selection, using fallback", "reply", reply)
		return s.Fallback.Select(ctx, question, choices)
	}
	return idx, nil
}

func selectorPrompt(question string, choices []Choice) string {
	var b strings.Builder
	b.WriteString("Tools:\n")
	for i, choice := range choices {
		fmt.Fprintf(&b, "(%d) %s: %s\n", i+1, choice.Name, choice.Description)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\nWhich tool number answers the question best?", question)
	return b.String()
}

// parseChoice accepts {"choice": n}, a bare tool name or the first integer
// in the reply. Choice numbers are 1-based.
func parseChoice(reply string, choices []Choice) (int, bool) {
	text := llm.StripCodeFence(reply)
	if raw := selectorJSONRe.FindString(text); raw != "" {
		var payload struct {
			Choice json.RawMessage `json:"choice"`
		}
		if err := json.Unmarshal([]byte(raw), &payload); err == nil && len(payload.Choice) > 0 {
			var n int
			if err := json.Unmarshal(payload.Choice, &n); err == nil {
				return oneBased(n, len(choices))
			}
			var name string
			if err := json.Unmarshal(payload.Choice, &name); err == nil {
				if n, err := strconv.Atoi(strings.TrimSpace(name)); err == nil {
					return oneBased(n, len(choices))
				}
				return byName(name, choices)
			}
		}
	}
	if match := firstIntegerRe.FindString(text); match != "" {
		n, _ := strconv.Atoi(match)
		return oneBased(n, len(choices))
	}
	return byName(text, choices)
}

func oneBased(n, count int) (int, bool) {
	if n < 1 || n > count {
		return 0, false
	}
	return n - 1, true
}

func byName(text string, choices []Choice) (int, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	for i, choice := range choices {
		if text == strings.ToLower(choice.Name) {
			return i, true
		}
	}
	return 0, false
}

var (
	definitionCues = []string{
		"what does", "mean", "meaning", "define", "definition", "what is a ", "what is an ", "explain",
		"stands for", "difference between", "what are the categories", "what is meant",
	}
	quantityCues = []string{
		"how many", "how much", "average", "avg", "total", "count", "top ", "bottom ", "list", "show",
		"percentage", "percent", "ratio", "highest", "lowest", "maximum", "minimum", "most", "least",
		"sum", "compare", "which district", "which districts", "which area", "which areas", "which state",
		"where", "areas in", "districts in", "number of", "more than", "less than", "greater", "exceed",
	}
	states = []string{
		"andhra pradesh", "arunachal pradesh", "assam", "bihar", "chhattisgarh", "goa", "gujarat", "haryana",
		"himachal pradesh", "jharkhand", "karnataka", "kerala", "madhya pradesh", "maharashtra", "manipur",
		"meghalaya", "mizoram", "nagaland", "odisha", "punjab", "rajasthan", "sikkim", "tamil nadu",
		"telangana", "tripura", "uttar pradesh", "uttarakhand", "west bengal", "delhi", "jammu and kashmir",
		"ladakh", "puducherry", "chandigarh",
	}
)

// KeywordSelector routes by fixed lexical cues. Definitional phrasing
// without any quantitative cue goes to the glossary; everything else goes to
// SQL.
type KeywordSelector struct{}

func (KeywordSelector) Select(_ context.Context, question string, choices []Choice) (int, error) {
	sqlIdx, glossaryIdx := -1, -1
	for i, choice := range choices {
		switch choice.Name {
		case SQLTool:
			sqlIdx = i
		case GlossaryTool:
			glossaryIdx = i
		}
	}
	if sqlIdx < 0 && glossaryIdx < 0 {
		if len(choices) == 0 {
			return 0, errors.New("no choices")
		}
		return 0, nil
	}
	if glossaryIdx >= 0 && isDefinitional(question) {
		return glossaryIdx, nil
	}
	if sqlIdx >= 0 {
		return sqlIdx, nil
	}
	return glossaryIdx, nil
}

func isDefinitional(question string) bool {
	q := " " + strings.ToLower(strings.TrimSpace(question)) + " "
	if !containsAny(q, definitionCues) {
		return false
	}
	return !containsAny(q, quantityCues) && !containsAny(q, states) && !yearRe.MatchString(q)
}

func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}
