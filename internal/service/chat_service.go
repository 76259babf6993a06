package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trattoria/chef/internal/cheferrors"
	"github.com/trattoria/chef/internal/generation"
	"github.com/trattoria/chef/internal/models"
	"github.com/trattoria/chef/internal/observability"
)

// RetrieverForChat abstracts the retriever for the orchestrator.
type RetrieverForChat interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.RecipeMatch, error)
}

// ChatService orchestrates one chat turn: retrieve, assemble context, compose the
// prompt, generate, then append the exchange to the session's conversation.
// External-service errors propagate unmodified and leave the conversation untouched.
type ChatService struct {
	retriever       RetrieverForChat
	generator       generation.Generator
	sessions        *SessionStore
	systemPrompt    string
	maxHistoryTurns int
	metrics         observability.ChefMetrics
	logger          *slog.Logger
}

// ChatServiceParams configures ChatService. SystemPrompt empty uses the default;
// Metrics and Logger may be nil.
type ChatServiceParams struct {
	Retriever       RetrieverForChat
	Generator       generation.Generator
	Sessions        *SessionStore
	SystemPrompt    string
	MaxHistoryTurns int
	Metrics         observability.ChefMetrics
	Logger          *slog.Logger
}

// NewChatService creates a ChatService.
func NewChatService(p ChatServiceParams) *ChatService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	systemPrompt := p.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	return &ChatService{
		retriever:       p.Retriever,
		generator:       p.Generator,
		sessions:        p.Sessions,
		systemPrompt:    systemPrompt,
		maxHistoryTurns: p.MaxHistoryTurns,
		metrics:         p.Metrics,
		logger:          logger,
	}
}

// Chat runs one full turn for the session and returns the answer text.
// Calls on the same session are serialized; different sessions run concurrently.
func (s *ChatService) Chat(ctx context.Context, sessionID, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}

	conv := s.sessions.Get(sessionID)

	conv.mu.Lock()
	defer conv.mu.Unlock()

	start := time.Now()

	prompt, err := s.composePrompt(ctx, conv, query)
	if err != nil {
		s.recordTurn(ctx, outcomeFor(err), start)

		return "", err
	}

	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.ErrorContext(ctx, "chat: generation failed", "error", err)
		s.recordTurn(ctx, observability.OutcomeGenerationError, start)

		return "", fmt.Errorf("generate answer: %w", err)
	}

	conv.appendExchangeLocked(query, answer)
	s.recordTurn(ctx, observability.OutcomeOK, start)

	return answer, nil
}

// ChatStream runs one turn in streaming mode, invoking onFragment for each piece
// of the answer as it arrives. The exchange is appended to the conversation only
// after the whole stream completes; cancellation or a stream error leaves the
// session's history unchanged.
func (s *ChatService) ChatStream(
	ctx context.Context, sessionID, query string, onFragment func(string) error,
) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}

	conv := s.sessions.Get(sessionID)

	conv.mu.Lock()
	defer conv.mu.Unlock()

	start := time.Now()

	prompt, err := s.composePrompt(ctx, conv, query)
	if err != nil {
		s.recordTurn(ctx, outcomeFor(err), start)

		return "", err
	}

	fragments, err := s.generator.GenerateStream(ctx, prompt)
	if err != nil {
		s.logger.ErrorContext(ctx, "chat: stream start failed", "error", err)
		s.recordTurn(ctx, observability.OutcomeGenerationError, start)

		return "", fmt.Errorf("start answer stream: %w", err)
	}

	var answer strings.Builder

	for frag := range fragments {
		if frag.Err != nil {
			s.logger.ErrorContext(ctx, "chat: stream failed", "error", frag.Err)
			s.recordTurn(ctx, observability.OutcomeGenerationError, start)

			return "", fmt.Errorf("answer stream: %w", frag.Err)
		}

		if frag.Content != "" {
			answer.WriteString(frag.Content)

			if onFragment != nil {
				if err := onFragment(frag.Content); err != nil {
					// The consumer went away; drain nothing further and do not
					// record a half-delivered answer.
					s.recordTurn(ctx, observability.OutcomeGenerationError, start)

					return "", fmt.Errorf("forward fragment: %w", err)
				}
			}
		}

		if frag.Done {
			break
		}
	}

	full := answer.String()
	conv.appendExchangeLocked(query, full)
	s.recordTurn(ctx, observability.OutcomeOK, start)

	return full, nil
}

// Reset clears the session's conversation. Idempotent.
func (s *ChatService) Reset(sessionID string) {
	s.sessions.Reset(sessionID)
}

// History returns a copy of the session's turn log.
func (s *ChatService) History(sessionID string) []models.Turn {
	return s.sessions.Get(sessionID).Turns()
}

// composePrompt performs retrieval and assembles the full prompt. Caller holds
// the conversation lock. An empty retrieval result yields an empty context
// block; the turn still proceeds.
func (s *ChatService) composePrompt(ctx context.Context, conv *Conversation, query string) (string, error) {
	matches, err := s.retriever.Retrieve(ctx, query, 0)
	if err != nil {
		s.logger.ErrorContext(ctx, "chat: retrieval failed", "error", err)

		return "", fmt.Errorf("retrieve context: %w", err)
	}

	contextBlock := FormatContext(matches)
	history := SerializeHistory(conv.snapshotLocked(), s.maxHistoryTurns)

	return BuildPrompt(s.systemPrompt, contextBlock, history, query), nil
}

func (s *ChatService) recordTurn(ctx context.Context, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordChatTurn(ctx, outcome, time.Since(start))
	}
}

// outcomeFor maps a pipeline error to its metric label.
func outcomeFor(err error) string {
	if errors.Is(err, cheferrors.ErrServiceUnavailable) {
		return observability.OutcomeEmbeddingError
	}

	return observability.OutcomeRetrievalError
}
