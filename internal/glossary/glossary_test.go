package glossary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aquamitra/aquamitra/internal/llm"
)

func TestDefaultCorpusCoversStatusVocabulary(t *testing.T) {
	docs, err := DefaultCorpus()
	if err != nil {
		t.Fatalf("DefaultCorpus() error = %v", err)
	}
	text := ""
	for _, doc := range docs {
		text += doc.Text + "\n"
	}
	for _, status := range []string{"safe", "semi_critical", "critical", "over_exploited"} {
		if !strings.Contains(text, status) {
			t.Fatalf("corpus does not mention %q", status)
		}
	}
}

func TestParseCorpusRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":     "documents: []\n",
		"no text":   "documents:\n  - id: a\n    title: A\n",
		"duplicate": "documents:\n  - id: a\n    text: x\n  - id: a\n    text: y\n",
		"not yaml":  "documents: [",
	}
	for name, data := range cases {
		if _, err := ParseCorpus([]byte(data)); err == nil {
			t.Fatalf("%s: ParseCorpus() expected error", name)
		}
	}
}

func TestTokenizeSplitsIdentifiers(t *testing.T) {
	got := strings.Join(Tokenize("What does Semi_Critical mean?"), ",")
	if got != "semi_critical,semi,critical,mean" {
		t.Fatalf("Tokenize() = %q", got)
	}
}

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	embedder := NewHashEmbedder(64)
	first, err := embedder.Embed(context.Background(), []string{"over exploited groundwater", ""})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	second, _ := embedder.Embed(context.Background(), []string{"over exploited groundwater"})
	if cosine(first[0], second[0]) < 0.9999 {
		t.Fatalf("embeddings differ between calls")
	}
	var norm float64
	for _, v := range first[0] {
		norm += float64(v) * float64(v)
	}
	if norm < 0.999 || norm > 1.001 {
		t.Fatalf("norm = %f, want 1", norm)
	}
	for _, v := range first[1] {
		if v != 0 {
			t.Fatal("empty text should embed to the zero vector")
		}
	}
}

func TestSearchRanksStatusDefinitionFirst(t *testing.T) {
	index := defaultIndex(t)
	matches, err := index.Search(context.Background(), "What does semi_critical mean?", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].Document.ID != "status-semi-critical" {
		t.Fatalf("top match = %q (%f)", matches[0].Document.ID, matches[0].Score)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatal("matches are not sorted by score")
	}
}

func TestToolAnswersDefinitionWithoutSQL(t *testing.T) {
	var prompt llm.Prompt
	completer := llm.CompleterFunc(func(_ context.Context, p llm.Prompt) (string, error) {
		prompt = p
		return " Semi-critical areas extract 70 to 90 percent of recharge. ", nil
	})
	glossaryTool := NewTool(defaultIndex(t), completer, 2, 0.15)

	result, err := glossaryTool.Answer(context.Background(), "What does semi_critical mean?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if result.SQL != "" {
		t.Fatalf("SQL = %q, want empty", result.SQL)
	}
	if result.Tool != ToolName {
		t.Fatalf("Tool = %q", result.Tool)
	}
	if result.Response != "Semi-critical areas extract 70 to 90 percent of recharge." {
		t.Fatalf("Response = %q", result.Response)
	}
	if !strings.Contains(prompt.User, "[Semi-critical]") {
		t.Fatalf("prompt did not include the retrieved entry: %q", prompt.User)
	}
}

func TestToolReturnsSentinelBelowThreshold(t *testing.T) {
	completer := llm.CompleterFunc(func(context.Context, llm.Prompt) (string, error) {
		t.Fatal("completer must not be called without relevant entries")
		return "", nil
	})
	glossaryTool := NewTool(defaultIndex(t), completer, 2, 0.15)

	result, err := glossaryTool.Answer(context.Background(), "Who won the cricket world cup in 1983?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if result.Response != NoInformationAnswer {
		t.Fatalf("Response = %q", result.Response)
	}
}

func TestToolWithoutCompleterReturnsTopEntry(t *testing.T) {
	glossaryTool := NewTool(defaultIndex(t), nil, 1, 0.1)
	result, err := glossaryTool.Answer(context.Background(), "what is over_exploited")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.HasPrefix(result.Response, "over_exploited is the groundwater_status") {
		t.Fatalf("Response = %q", result.Response)
	}
}

func TestNewIndexPropagatesEmbedderFailure(t *testing.T) {
	_, err := NewIndex(context.Background(), failingEmbedder{}, []Document{{ID: "a", Text: "x"}})
	if err == nil || !strings.Contains(err.Error(), "embed glossary corpus") {
		t.Fatalf("NewIndex() error = %v", err)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("quota exceeded")
}

func defaultIndex(t *testing.T) *Index {
	t.Helper()
	docs, err := DefaultCorpus()
	if err != nil {
		t.Fatalf("DefaultCorpus() error = %v", err)
	}
	index, err := NewIndex(context.Background(), NewHashEmbedder(1024), docs)
	if err != nil {
		t.Fatalf("NewIndex() error = %v", err)
	}
	return index
}
