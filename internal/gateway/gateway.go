// Package gateway runs one chat turn: translation in, routing, translation
// out, timing and transcript logging.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aquamitra/aquamitra/internal/chatlog"
	"github.com/aquamitra/aquamitra/internal/observability"
	"github.com/aquamitra/aquamitra/internal/tool"
	"github.com/aquamitra/aquamitra/internal/translate"
)

var (
	ErrEmptyMessages       = errors.New("messages cannot be empty")
	ErrEmptyQuestion       = errors.New("last message content cannot be empty")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// PipelineError wraps any routing or tool failure. Its message is generic;
// the cause is only logged.
type PipelineError struct {
	Err error
}

func (e *PipelineError) Error() string { return "RAG Pipeline Error" }

func (e *PipelineError) Unwrap() error { return e.Err }

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	SessionID string    `json:"session_id"`
	Language  string    `json:"language"`
}

type Response struct {
	Response        string  `json:"response"`
	SQLQuery        *string `json:"sql_query"`
	LatencyMS       int64   `json:"latency_ms"`
	OriginalQuery   *string `json:"original_query"`
	TranslatedQuery *string `json:"translated_query"`
}

type Router interface {
	Route(ctx context.Context, question string) (tool.Result, error)
}

type Translator interface {
	ToEnglish(ctx context.Context, text, lang string) (string, error)
	FromEnglish(ctx context.Context, text, lang string) (string, error)
	Detect(ctx context.Context, text string) (string, error)
}

type Service struct {
	router     Router
	translator Translator
	log        chatlog.Repository
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(router Router, translator Translator, log chatlog.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{router: router, translator: translator, log: log, logger: logger, now: time.Now}
}

// Chat answers the last message of the request. Earlier turns are not used.
func (s *Service) Chat(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, ErrEmptyMessages
	}
	question := strings.TrimSpace(req.Messages[len(req.Messages)-1].Content)
	if question == "" {
		return Response{}, ErrEmptyQuestion
	}
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang == "" {
		lang = translate.English
	}
	if lang != translate.Auto && !translate.Supported(lang) {
		return Response{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language)
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = chatlog.DefaultSessionID
	}
	ctx = observability.ContextWithSessionID(ctx, sessionID)

	start := s.now()
	english := question
	sourceLang := lang
	if lang != translate.English && s.translator != nil {
		if lang == translate.Auto {
			// Detection failures fall back to English inside the translator.
			sourceLang, _ = s.translator.Detect(ctx, question)
		}
		// On failure the question is passed through untranslated.
		english, _ = s.translator.ToEnglish(ctx, question, sourceLang)
	}

	result, err := s.router.Route(ctx, english)
	if err != nil {
		s.logger.ErrorContext(ctx, "chat pipeline failed", append(observability.RequestAttrs(ctx),
			"question", english,
			"tool", result.Tool,
			"sql", result.SQL,
			"error", err,
		)...)
		return Response{}, &PipelineError{Err: err}
	}

	answer := result.Response
	if sourceLang != translate.English && s.translator != nil {
		answer, _ = s.translator.FromEnglish(ctx, answer, sourceLang)
	}
	latency := s.now().Sub(start).Milliseconds()

	resp := Response{Response: answer, LatencyMS: latency}
	if result.SQL != "" {
		sql := result.SQL
		resp.SQLQuery = &sql
	}
	if lang != translate.English {
		original, translated := question, english
		resp.OriginalQuery = &original
		resp.TranslatedQuery = &translated
	}

	s.record(ctx, sessionID, question, resp)
	s.logger.InfoContext(ctx, "chat answered", append(observability.RequestAttrs(ctx),
		"tool", result.Tool,
		"language", sourceLang,
		"latency_ms", latency,
	)...)
	return resp, nil
}

func (s *Service) record(ctx context.Context, sessionID, question string, resp Response) {
	if s.log == nil {
		return
	}
	latency := resp.LatencyMS
	err := s.log.Append(ctx,
		chatlog.Entry{SessionID: sessionID, Role: chatlog.RoleUser, Content: question},
		chatlog.Entry{SessionID: sessionID, Role: chatlog.RoleAssistant, Content: resp.Response, SQLQuery: resp.SQLQuery, LatencyMS: &latency},
	)
	if err != nil {
		observability.IncrementChatLogFailure()
		s.logger.WarnContext(ctx, "chat log write failed", append(observability.RequestAttrs(ctx), "error", err)...)
	}
}

// History returns the newest limit transcript entries of a session in
// chronological order. limit 0 means the default of 50.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]chatlog.Entry, error) {
	if _, err := chatlog.NormalizeLimit(limit); err != nil {
		return nil, err
	}
	if s.log == nil {
		return []chatlog.Entry{}, nil
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = chatlog.DefaultSessionID
	}
	entries, err := s.log.History(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries, nil
}
