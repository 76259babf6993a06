package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/trattoria/chef/internal/api/response"
	"github.com/trattoria/chef/internal/cheferrors"
)

// ChatService defines the chat orchestration the handler depends on.
type ChatService interface {
	Chat(ctx context.Context, sessionID, query string) (string, error)
	ChatStream(ctx context.Context, sessionID, query string, onFragment func(string) error) (string, error)
	Reset(sessionID string)
}

// ChatHandler handles HTTP requests for the cooking assistant chat.
type ChatHandler struct {
	service ChatService
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(service ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

// ChatRequest is the body for POST /v1/chat and POST /v1/chat/stream.
// API contract uses camelCase (sessionId).
type ChatRequest struct {
	SessionID string `json:"sessionId"` //nolint:tagliatelle // API contract
	Query     string `json:"query"`
}

// ChatResponse is the response for POST /v1/chat.
type ChatResponse struct {
	SessionID string `json:"sessionId"` //nolint:tagliatelle // API contract
	Answer    string `json:"answer"`
}

// StreamFragment is one NDJSON line of POST /v1/chat/stream. The final line has
// Done true and carries the session id on success, or Error when the stream
// aborted after fragments already went out.
type StreamFragment struct {
	Content   string `json:"content,omitempty"`
	Done      bool   `json:"done,omitempty"`
	SessionID string `json:"sessionId,omitempty"` //nolint:tagliatelle // API contract
	Error     string `json:"error,omitempty"`
}

const maxQueryLength = 8192

// decodeChatRequest parses and validates the request body. An omitted sessionId
// gets a fresh server-generated one.
func decodeChatRequest(r *http.Request) (ChatRequest, string, bool) {
	var req ChatRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&req); err != nil {
		return req, "Invalid request body", false
	}

	if strings.TrimSpace(req.Query) == "" {
		return req, "query is required and must be non-empty", false
	}

	if len(req.Query) > maxQueryLength {
		return req, "query exceeds maximum length", false
	}

	if req.SessionID == "" {
		req.SessionID = uuid.Must(uuid.NewV7()).String()
	}

	return req, "", true
}

// Chat handles POST /v1/chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, detail, ok := decodeChatRequest(r)
	if !ok {
		response.RespondBadRequest(w, detail)

		return
	}

	answer, err := h.service.Chat(r.Context(), req.SessionID, req.Query)
	if err != nil {
		respondChatError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, ChatResponse{
		SessionID: req.SessionID,
		Answer:    answer,
	})
}

// ChatStream handles POST /v1/chat/stream. Fragments are written as NDJSON lines
// and flushed as they arrive; a terminal line with done=true closes the stream.
// Once streaming has begun, an error can only be reported as a final error line.
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	// This route bypasses the buffering body-limit middleware so fragments can
	// flush as they arrive; bound the body here instead.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	req, detail, ok := decodeChatRequest(r)
	if !ok {
		response.RespondBadRequest(w, detail)

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.RespondInternalServerError(w, "streaming unsupported")

		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	enc := json.NewEncoder(w)
	started := false

	_, err := h.service.ChatStream(r.Context(), req.SessionID, req.Query, func(content string) error {
		started = true
		if err := enc.Encode(StreamFragment{Content: content}); err != nil {
			return err
		}

		flusher.Flush()

		return nil
	})
	if err != nil {
		if !started {
			respondChatError(w, r, err)

			return
		}

		// Headers are out; best we can do is a terminal error line.
		slog.ErrorContext(r.Context(), "chat stream aborted", "error", err)
		_ = enc.Encode(StreamFragment{Done: true, Error: streamErrorMessage(err)})
		flusher.Flush()

		return
	}

	if err := enc.Encode(StreamFragment{Done: true, SessionID: req.SessionID}); err != nil {
		slog.ErrorContext(r.Context(), "failed to write stream terminator", "error", err)

		return
	}

	flusher.Flush()
}

// ResetSession handles POST /v1/sessions/{id}/reset. Resetting an unknown
// session succeeds; the operation is idempotent.
func (h *ChatHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		response.RespondBadRequest(w, "session id is required")

		return
	}

	h.service.Reset(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// streamErrorMessage maps a mid-stream failure to the stable message carried by
// the terminal NDJSON line. Internal detail stays in the logs.
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, cheferrors.ErrServiceUnavailable):
		return "generation service became unavailable"
	case errors.Is(err, cheferrors.ErrGeneration):
		return "answer generation failed"
	default:
		return "stream aborted"
	}
}

// respondChatError maps pipeline errors to HTTP statuses. External-service
// failures surface as 503 so callers know to retry, generation failures as 502.
func respondChatError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cheferrors.ErrValidation):
		response.RespondBadRequest(w, err.Error())
	case errors.Is(err, cheferrors.ErrServiceUnavailable):
		slog.ErrorContext(r.Context(), "chat failed: model service unavailable", "error", err)
		response.RespondServiceUnavailable(w, "embedding or generation service is unavailable")
	case errors.Is(err, cheferrors.ErrGeneration):
		slog.ErrorContext(r.Context(), "chat failed: generation error", "error", err)
		response.RespondError(w, http.StatusBadGateway, "Bad Gateway", "generation backend failed")
	default:
		slog.ErrorContext(r.Context(), "chat failed", "error", err)
		response.RespondInternalServerError(w, "Failed to process chat turn")
	}
}
