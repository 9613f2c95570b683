// Package translate converts questions into English and answers back into
// the user's language. Every failure degrades to passing the text through.
package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aquamitra/aquamitra/internal/llm"
	"github.com/aquamitra/aquamitra/internal/observability"
)

const (
	English = "en"
	Auto    = "auto"

	DirectionToEnglish   = "to_english"
	DirectionFromEnglish = "from_english"
	DirectionDetect      = "detect"
)

// Languages maps supported codes to display names.
var Languages = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"mr": "Marathi",
	"bn": "Bengali",
	"ta": "Tamil",
	"te": "Telugu",
	"gu": "Gujarati",
}

func Supported(code string) bool {
	_, ok := Languages[code]
	return ok
}

// Codes returns the supported codes in sorted order.
func Codes() []string {
	codes := make([]string, 0, len(Languages))
	for code := range Languages {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func languageName(code string) string {
	if name, ok := Languages[code]; ok {
		return name
	}
	return code
}

// TranslationError wraps a backend failure. The text returned alongside it
// is always the untranslated input.
type TranslationError struct {
	Direction string
	Language  string
	Err       error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate %s (%s): %v", e.Direction, e.Language, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

type Service struct {
	completer llm.Completer
	limiter   *Limiter
	cache     Cache
	cacheTTL  time.Duration
	logger    *slog.Logger
}

type Option func(*Service)

func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
			s.cacheTTL = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(completer llm.Completer, minInterval time.Duration, opts ...Option) *Service {
	s := &Service{
		completer: completer,
		limiter:   NewLimiter(minInterval),
		cache:     NopCache{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ToEnglish returns text unchanged for English input. On failure it returns
// the original text together with a *TranslationError.
func (s *Service) ToEnglish(ctx context.Context, text, lang string) (string, error) {
	if lang == English || strings.TrimSpace(text) == "" {
		return text, nil
	}
	name := languageName(lang)
	prompt := fmt.Sprintf("Translate the following %s text to English.\n"+
		"Keep the translation accurate and natural. If it's a question about groundwater, water resources, "+
		"or geographic locations, preserve technical terms and place names correctly.\n\n"+
		"%s text: %s\n\nEnglish translation:", name, name, text)
	return s.translate(ctx, DirectionToEnglish, lang, text, prompt)
}

// FromEnglish mirrors ToEnglish for answers.
func (s *Service) FromEnglish(ctx context.Context, text, lang string) (string, error) {
	if lang == English || strings.TrimSpace(text) == "" {
		return text, nil
	}
	name := languageName(lang)
	prompt := fmt.Sprintf("Translate the following English text to %s.\n"+
		"Keep the translation natural and accurate. Preserve numbers, technical terms, and proper nouns when appropriate.\n"+
		"If translating groundwater/water resource information, maintain technical accuracy.\n\n"+
		"English text: %s\n\n%s translation:", name, text, name)
	return s.translate(ctx, DirectionFromEnglish, lang, text, prompt)
}

// Detect returns a supported language code, falling back to English.
func (s *Service) Detect(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return English, nil
	}
	var b strings.Builder
	b.WriteString("Detect the language of the following text and respond with only the language code:\n")
	for _, code := range Codes() {
		fmt.Fprintf(&b, "- %s for %s\n", code, Languages[code])
	}
	fmt.Fprintf(&b, "\nIf the language is not one of these, respond with 'en'.\n\nText: %s\n\nLanguage code:", text)

	reply, err := s.complete(ctx, b.String())
	if err != nil {
		terr := &TranslationError{Direction: DirectionDetect, Language: Auto, Err: err}
		s.fail(ctx, terr)
		return English, terr
	}
	code := strings.ToLower(strings.Trim(strings.TrimSpace(reply), "'\"`."))
	if !Supported(code) {
		s.logger.WarnContext(ctx, "unknown language detected, defaulting to english", "reply", reply)
		return English, nil
	}
	return code, nil
}

func (s *Service) translate(ctx context.Context, direction, lang, text, prompt string) (string, error) {
	key := cacheKey(direction, lang, text)
	if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return cached, nil
	}
	reply, err := s.complete(ctx, prompt)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = fmt.Errorf("empty translation")
	}
	if err != nil {
		terr := &TranslationError{Direction: direction, Language: lang, Err: err}
		s.fail(ctx, terr)
		return text, terr
	}
	translated := strings.TrimSpace(llm.StripCodeFence(reply))
	if err := s.cache.Set(ctx, key, translated, s.cacheTTL); err != nil {
		s.logger.DebugContext(ctx, "translation cache write failed", "error", err)
	}
	return translated, nil
}

func (s *Service) complete(ctx context.Context, prompt string) (string, error) {
	if s.completer == nil {
		return "", fmt.Errorf("no translation backend configured")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return s.completer.Complete(ctx, llm.Prompt{User: prompt})
}

func (s *Service) fail(ctx context.Context, err *TranslationError) {
	observability.IncrementTranslationFallback(err.Direction)
	s.logger.ErrorContext(ctx, "translation failed, passing text through", append(observability.RequestAttrs(ctx),
		"direction", err.Direction,
		"language", err.Language,
		"error", err.Err,
	)...)
}

func cacheKey(direction, lang, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "aquamitra:translate:" + direction + ":" + lang + ":" + hex.EncodeToString(sum[:])
}
