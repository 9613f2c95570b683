// Package glossary answers definitional questions from a small embedded
// corpus of groundwater terminology. It never touches the assessments table.
package glossary

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aquamitra/aquamitra/internal/llm"
)

//go:embed corpus.yaml
var corpusYAML []byte

type Document struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Text  string `yaml:"text"`
}

type corpusFile struct {
	Documents []Document `yaml:"documents"`
}

// DefaultCorpus returns the embedded terminology documents.
func DefaultCorpus() ([]Document, error) {
	return ParseCorpus(corpusYAML)
}

func ParseCorpus(data []byte) ([]Document, error) {
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse glossary corpus: %w", err)
	}
	seen := make(map[string]bool, len(file.Documents))
	for i, doc := range file.Documents {
		if strings.TrimSpace(doc.ID) == "" || strings.TrimSpace(doc.Text) == "" {
			return nil, fmt.Errorf("glossary document %d: id and text are required", i)
		}
		if seen[doc.ID] {
			return nil, fmt.Errorf("glossary document %q is duplicated", doc.ID)
		}
		seen[doc.ID] = true
	}
	if len(file.Documents) == 0 {
		return nil, errors.New("glossary corpus is empty")
	}
	return file.Documents, nil
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "what": true, "does": true, "do": true,
	"of": true, "in": true, "to": true, "and": true, "or": true, "for": true, "by": true, "it": true,
	"that": true, "this": true, "as": true, "be": true, "me": true, "tell": true, "about": true,
	"how": true, "which": true, "with": true, "from": true, "each": true, "its": true, "there": true,
}

// Tokenize lowercases text, drops stop words and also emits the parts of
// underscore-joined identifiers so semi_critical matches "semi critical".
func Tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if stopWords[word] {
			continue
		}
		tokens = append(tokens, word)
		if strings.Contains(word, "_") {
			for _, part := range strings.Split(word, "_") {
				if part != "" && !stopWords[part] {
					tokens = append(tokens, part)
				}
			}
		}
	}
	return tokens
}

// HashEmbedder is a deterministic bag-of-words embedder. Each token is
// hashed into one of Dim buckets and the vector is L2-normalized.
type HashEmbedder struct {
	Dim int
}

func NewHashEmbedder(dim int) HashEmbedder {
	if dim <= 0 {
		dim = 512
	}
	return HashEmbedder{Dim: dim}
}

func (e HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	dim := e.Dim
	if dim <= 0 {
		dim = 512
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, dim)
		for _, token := range Tokenize(text) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(token))
			vector[h.Sum32()%uint32(dim)]++
		}
		normalize(vector)
		vectors[i] = vector
	}
	return vectors, nil
}

func normalize(vector []float32) {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vector {
		vector[i] /= norm
	}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type Match struct {
	Document Document
	Score    float64
}

// Index holds one embedding per document, computed once at construction.
type Index struct {
	embedder llm.Embedder
	docs     []Document
	vectors  [][]float32
}

func NewIndex(ctx context.Context, embedder llm.Embedder, docs []Document) (*Index, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Title + "\n" + doc.Text
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed glossary corpus: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embed glossary corpus: got %d vectors for %d documents", len(vectors), len(docs))
	}
	return &Index{embedder: embedder, docs: docs, vectors: vectors}, nil
}

func (i *Index) Len() int { return len(i.docs) }

// Search returns up to k documents ordered by descending similarity. Ties
// keep corpus order.
func (i *Index) Search(ctx context.Context, question string, k int) ([]Match, error) {
	vectors, err := i.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed question: got %d vectors", len(vectors))
	}
	matches := make([]Match, len(i.docs))
	for idx, doc := range i.docs {
		matches[idx] = Match{Document: doc, Score: cosine(vectors[0], i.vectors[idx])}
	}
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if k > 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}
