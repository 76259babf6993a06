package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trattoria/chef/internal/cheferrors"
	"github.com/trattoria/chef/internal/generation"
	"github.com/trattoria/chef/internal/models"
)

type mockRetriever struct {
	mu       sync.Mutex
	prompts  []string
	matches  []models.RecipeMatch
	err      error
	retrieve func(ctx context.Context, query string, k int) ([]models.RecipeMatch, error)
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string, k int) ([]models.RecipeMatch, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, query)
	m.mu.Unlock()

	if m.retrieve != nil {
		return m.retrieve(ctx, query, k)
	}

	return m.matches, m.err
}

type mockGenerator struct {
	mu        sync.Mutex
	prompts   []string
	answer    string
	err       error
	fragments []generation.Fragment
	streamErr error
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	return m.answer, m.err
}

func (m *mockGenerator) GenerateStream(_ context.Context, prompt string) (<-chan generation.Fragment, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.streamErr != nil {
		return nil, m.streamErr
	}

	ch := make(chan generation.Fragment, len(m.fragments))
	for _, f := range m.fragments {
		ch <- f
	}
	close(ch)

	return ch, nil
}

func (m *mockGenerator) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.prompts) == 0 {
		return ""
	}

	return m.prompts[len(m.prompts)-1]
}

func newTestChatService(t *testing.T, retriever RetrieverForChat, gen generation.Generator) *ChatService {
	t.Helper()

	sessions, err := NewSessionStore(16)
	require.NoError(t, err)

	return NewChatService(ChatServiceParams{
		Retriever:       retriever,
		Generator:       gen,
		Sessions:        sessions,
		MaxHistoryTurns: 20,
	})
}

func TestChatService_Chat(t *testing.T) {
	t.Run("successful turn appends human then assistant", func(t *testing.T) {
		gen := &mockGenerator{answer: "Use guanciale, not bacon."}
		svc := newTestChatService(t, &mockRetriever{
			matches: []models.RecipeMatch{{Document: "Carbonara: eggs, guanciale, pecorino."}},
		}, gen)

		answer, err := svc.Chat(context.Background(), "s1", "How do I make carbonara?")
		require.NoError(t, err)
		assert.Equal(t, "Use guanciale, not bacon.", answer)

		turns := svc.History("s1")
		require.Len(t, turns, 2)
		assert.Equal(t, models.RoleHuman, turns[0].Role)
		assert.Equal(t, "How do I make carbonara?", turns[0].Text)
		assert.Equal(t, models.RoleAssistant, turns[1].Role)
		assert.Equal(t, "Use guanciale, not bacon.", turns[1].Text)
	})

	t.Run("generation failure leaves history unchanged", func(t *testing.T) {
		gen := &mockGenerator{err: cheferrors.NewGenerationError("model crashed")}
		svc := newTestChatService(t, &mockRetriever{}, gen)

		_, err := svc.Chat(context.Background(), "s1", "hello")
		require.Error(t, err)
		assert.ErrorIs(t, err, cheferrors.ErrGeneration)
		assert.Empty(t, svc.History("s1"))
	})

	t.Run("retrieval failure leaves history unchanged", func(t *testing.T) {
		svc := newTestChatService(t, &mockRetriever{
			err: cheferrors.NewServiceUnavailableError("ollama", "embedding model offline"),
		}, &mockGenerator{answer: "never reached"})

		_, err := svc.Chat(context.Background(), "s1", "hello")
		require.Error(t, err)
		assert.ErrorIs(t, err, cheferrors.ErrServiceUnavailable)
		assert.Empty(t, svc.History("s1"))
	})

	t.Run("empty query is rejected before touching the pipeline", func(t *testing.T) {
		retriever := &mockRetriever{}
		svc := newTestChatService(t, retriever, &mockGenerator{})

		_, err := svc.Chat(context.Background(), "s1", "  \n ")
		assert.ErrorIs(t, err, ErrEmptyQuery)
		assert.Empty(t, retriever.prompts)
	})

	t.Run("retrieved documents and history flow into the prompt", func(t *testing.T) {
		gen := &mockGenerator{answer: "first"}
		svc := newTestChatService(t, &mockRetriever{
			matches: []models.RecipeMatch{
				{Document: "Pesto: basil, pine nuts, parmigiano."},
				{Document: "Pasta alla Norma: eggplant, ricotta salata."},
			},
		}, gen)

		_, err := svc.Chat(context.Background(), "s1", "something green")
		require.NoError(t, err)

		gen.answer = "second"
		_, err = svc.Chat(context.Background(), "s1", "and with eggplant?")
		require.NoError(t, err)

		prompt := gen.lastPrompt()
		assert.Contains(t, prompt, "Pesto: basil, pine nuts, parmigiano.")
		assert.Contains(t, prompt, ContextSeparator)
		assert.Contains(t, prompt, "Human: something green")
		assert.Contains(t, prompt, "Assistant: first")
		assert.True(t, strings.HasSuffix(prompt, "Human: and with eggplant?\nAssistant:"))
	})

	t.Run("empty retrieval degrades to empty context, turn still succeeds", func(t *testing.T) {
		gen := &mockGenerator{answer: "Ciao! What would you like to cook?"}
		svc := newTestChatService(t, &mockRetriever{}, gen)

		answer, err := svc.Chat(context.Background(), "fresh", "hello")
		require.NoError(t, err)
		assert.NotEmpty(t, answer)
		assert.Contains(t, gen.lastPrompt(), "CONTEXT FROM DATABASE:\n\n\n")
		assert.Len(t, svc.History("fresh"), 2)
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		svc := newTestChatService(t, &mockRetriever{}, &mockGenerator{answer: "ok"})

		_, err := svc.Chat(context.Background(), "alice", "pasta?")
		require.NoError(t, err)

		assert.Len(t, svc.History("alice"), 2)
		assert.Empty(t, svc.History("bob"))
	})

	t.Run("reset clears history and is idempotent", func(t *testing.T) {
		svc := newTestChatService(t, &mockRetriever{}, &mockGenerator{answer: "ok"})

		_, err := svc.Chat(context.Background(), "s1", "pasta?")
		require.NoError(t, err)
		require.Len(t, svc.History("s1"), 2)

		svc.Reset("s1")
		assert.Empty(t, svc.History("s1"))

		svc.Reset("s1")
		svc.Reset("never-seen")
		assert.Empty(t, svc.History("s1"))
	})
}

func TestChatService_ChatStream(t *testing.T) {
	t.Run("fragments are forwarded in order and appended once complete", func(t *testing.T) {
		gen := &mockGenerator{fragments: []generation.Fragment{
			{Content: "Boil "},
			{Content: "the "},
			{Content: "pasta.", Done: true},
		}}
		svc := newTestChatService(t, &mockRetriever{}, gen)

		var got []string
		answer, err := svc.ChatStream(context.Background(), "s1", "how long?", func(frag string) error {
			got = append(got, frag)

			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "Boil the pasta.", answer)
		assert.Equal(t, []string{"Boil ", "the ", "pasta."}, got)

		turns := svc.History("s1")
		require.Len(t, turns, 2)
		assert.Equal(t, "Boil the pasta.", turns[1].Text)
	})

	t.Run("mid-stream error discards the partial answer", func(t *testing.T) {
		gen := &mockGenerator{fragments: []generation.Fragment{
			{Content: "Boil "},
			{Err: cheferrors.NewGenerationError("connection reset")},
		}}
		svc := newTestChatService(t, &mockRetriever{}, gen)

		_, err := svc.ChatStream(context.Background(), "s1", "how long?", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, cheferrors.ErrGeneration)
		assert.Empty(t, svc.History("s1"))
	})

	t.Run("consumer error stops the stream without recording", func(t *testing.T) {
		gen := &mockGenerator{fragments: []generation.Fragment{
			{Content: "Boil "},
			{Content: "the pasta.", Done: true},
		}}
		svc := newTestChatService(t, &mockRetriever{}, gen)

		_, err := svc.ChatStream(context.Background(), "s1", "how long?", func(string) error {
			return context.Canceled
		})
		require.Error(t, err)
		assert.Empty(t, svc.History("s1"))
	})
}

func TestSessionStore(t *testing.T) {
	t.Run("get creates on first use and returns same conversation after", func(t *testing.T) {
		store, err := NewSessionStore(4)
		require.NoError(t, err)

		conv := store.Get("s1")
		require.NotNil(t, conv)
		assert.Same(t, conv, store.Get("s1"))
		assert.Equal(t, 1, store.Len())
	})

	t.Run("capacity bounds live sessions", func(t *testing.T) {
		store, err := NewSessionStore(2)
		require.NoError(t, err)

		store.Get("a")
		store.Get("b")
		store.Get("c")
		assert.Equal(t, 2, store.Len())
	})
}
