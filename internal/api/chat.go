package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aquamitra/aquamitra/internal/chatlog"
	"github.com/aquamitra/aquamitra/internal/gateway"
	"github.com/aquamitra/aquamitra/internal/observability"
	"github.com/aquamitra/aquamitra/internal/translate"
)

const maxChatBodyBytes = 1 << 20

func handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": translate.Languages})
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat pipeline is not configured")
		return
	}

	var request gateway.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body")
		return
	}
	if len(request.Messages) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_MESSAGES", gateway.ErrEmptyMessages.Error())
		return
	}

	if deps.Warehouse != nil {
		if err := deps.Warehouse.EnsureReady(r.Context()); err != nil {
			deps.Logger.ErrorContext(r.Context(), "assessments table unavailable", append(observability.RequestAttrs(r.Context()), "error", err)...)
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", "assessment data is not available")
			return
		}
	}

	response, err := deps.Chat.Chat(r.Context(), request)
	if err != nil {
		var pipelineErr *gateway.PipelineError
		switch {
		case errors.Is(err, gateway.ErrEmptyMessages), errors.Is(err, gateway.ErrEmptyQuestion):
			writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_MESSAGES", err.Error())
		case errors.Is(err, gateway.ErrUnsupportedLanguage):
			writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_LANGUAGE", err.Error())
		case errors.As(err, &pipelineErr):
			writeError(r.Context(), w, http.StatusInternalServerError, "PIPELINE_ERROR", pipelineErr.Error())
		default:
			deps.Logger.ErrorContext(r.Context(), "chat failed", append(observability.RequestAttrs(r.Context()), "error", err)...)
			writeError(r.Context(), w, http.StatusInternalServerError, "PIPELINE_ERROR", "RAG Pipeline Error")
		}
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat pipeline is not configured")
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = chatlog.DefaultSessionID
	}
	limit := chatlog.DefaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "INVALID_LIMIT", "limit must be an integer")
			return
		}
		limit = parsed
	}

	entries, err := deps.Chat.History(r.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, chatlog.ErrInvalidLimit) {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "INVALID_LIMIT", err.Error())
			return
		}
		deps.Logger.ErrorContext(r.Context(), "history lookup failed", append(observability.RequestAttrs(r.Context()), "error", err)...)
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_FAILED", "could not load chat history")
		return
	}
	if entries == nil {
		entries = []chatlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": entries})
}
