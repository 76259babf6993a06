package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trattoria/chef/internal/api/handlers"
	"github.com/trattoria/chef/internal/api/middleware"
	"github.com/trattoria/chef/internal/embeddings"
	"github.com/trattoria/chef/internal/generation"
	"github.com/trattoria/chef/internal/models"
	"github.com/trattoria/chef/internal/repository"
	"github.com/trattoria/chef/internal/service"
	"github.com/trattoria/chef/internal/store"
)

func sampleRecipes() []testRecipe {
	return []testRecipe{
		{
			name: "Spaghetti alla Carbonara", category: "Primi",
			link:     "https://example.com/carbonara",
			document: "Spaghetti alla Carbonara: spaghetti, eggs, guanciale, pecorino romano, black pepper.",
			embedding: []float32{1, 0, 0},
		},
		{
			name: "Bucatini all'Amatriciana", category: "Primi",
			link:     "https://example.com/amatriciana",
			document: "Bucatini all'Amatriciana: bucatini, tomato, guanciale, pecorino romano.",
			embedding: []float32{0.8, 0.6, 0},
		},
		{
			name: "Tiramisu", category: "Dolci",
			link:     "https://example.com/tiramisu",
			document: "Tiramisu: mascarpone, espresso, savoiardi, cocoa.",
			embedding: []float32{0, 1, 0},
		},
	}
}

func newTestBuilder(db *repository.RecipesRepository, csvPath string) *store.Builder {
	return store.NewBuilder(store.BuilderParams{
		Repo:       db,
		Collection: testCollection,
		CSVPath:    csvPath,
		BatchSize:  2,
		Dimensions: 3,
		Logger:     slog.Default(),
	})
}

func TestBuildOrLoad_Integration(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	repo := repository.NewRecipesRepository(db)
	csvPath := writeRecipesCSV(t, sampleRecipes())
	builder := newTestBuilder(repo, csvPath)

	// First call builds from the CSV.
	meta, err := builder.BuildOrLoad(ctx)
	require.NoError(t, err)
	assert.Equal(t, testCollection, meta.Name)
	assert.Equal(t, models.MetricCosine, meta.Metric)
	assert.Equal(t, 3, meta.Dimension)
	assert.Equal(t, 3, meta.Count)

	// Second call loads the existing collection without rebuilding; a row
	// mutation made between calls survives a pure load.
	_, err = db.Exec(ctx,
		`UPDATE recipes SET document = 'marker' WHERE collection = $1 AND id = '0'`, testCollection)
	require.NoError(t, err)

	meta, err = builder.BuildOrLoad(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Count)

	var doc string
	require.NoError(t, db.QueryRow(ctx,
		`SELECT document FROM recipes WHERE collection = $1 AND id = '0'`, testCollection).Scan(&doc))
	assert.Equal(t, "marker", doc, "valid collection must not be rebuilt")

	// Deleting a row makes the stored count disagree with the meta row; the
	// next call detects the corruption and rebuilds from source.
	_, err = db.Exec(ctx, `DELETE FROM recipes WHERE collection = $1 AND id = '2'`, testCollection)
	require.NoError(t, err)

	meta, err = builder.BuildOrLoad(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Count)

	require.NoError(t, db.QueryRow(ctx,
		`SELECT document FROM recipes WHERE collection = $1 AND id = '0'`, testCollection).Scan(&doc))
	assert.NotEqual(t, "marker", doc, "rebuild must restore source rows")
}

func TestNearestOrdering_Integration(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	repo := repository.NewRecipesRepository(db)
	builder := newTestBuilder(repo, writeRecipesCSV(t, sampleRecipes()))

	_, err := builder.BuildOrLoad(ctx)
	require.NoError(t, err)

	matches, err := repo.Nearest(ctx, testCollection, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "Spaghetti alla Carbonara", matches[0].Metadata.Name)
	assert.Equal(t, "Bucatini all'Amatriciana", matches[1].Metadata.Name)
	assert.Equal(t, "Tiramisu", matches[2].Metadata.Name)

	assert.InDelta(t, 1.0, matches[0].Score, 1e-4)
	assert.InDelta(t, 0.8, matches[1].Score, 1e-4)
	assert.InDelta(t, 0.0, matches[2].Score, 1e-4)

	// k caps the result set.
	matches, err = repo.Nearest(ctx, testCollection, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

// fixedGenerator returns a canned answer and records the prompt it saw.
type fixedGenerator struct {
	answer string
	prompt string
}

func (g *fixedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt

	return g.answer, nil
}

func (g *fixedGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan generation.Fragment, error) {
	answer, _ := g.Generate(ctx, prompt)
	ch := make(chan generation.Fragment, 1)
	ch <- generation.Fragment{Content: answer, Done: true}
	close(ch)

	return ch, nil
}

// setupTestServer wires the real repository, retriever, and chat service behind
// the real middleware chain, with a mock embedding gateway and a canned generator.
func setupTestServer(t *testing.T, db *repository.RecipesRepository, gen generation.Generator) *httptest.Server {
	t.Helper()

	retriever := service.NewRetriever(service.RetrieverParams{
		EmbeddingClient: embeddings.NewMockClient(3),
		Repo:            db,
		Collection:      testCollection,
		DefaultTopK:     5,
	})

	sessions, err := service.NewSessionStore(16)
	require.NoError(t, err)

	chatService := service.NewChatService(service.ChatServiceParams{
		Retriever:       retriever,
		Generator:       gen,
		Sessions:        sessions,
		MaxHistoryTurns: 20,
	})

	chatHandler := handlers.NewChatHandler(chatService)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/chat", chatHandler.Chat)
	protected.HandleFunc("POST /v1/chat/stream", chatHandler.ChatStream)
	protected.HandleFunc("POST /v1/sessions/{id}/reset", chatHandler.ResetSession)

	mux := http.NewServeMux()
	mux.Handle("/v1/", middleware.Auth(testAPIKey)(protected))

	server := httptest.NewServer(middleware.RequestID(mux))
	t.Cleanup(server.Close)

	return server
}

func postJSON(t *testing.T, url, apiKey, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

func TestChatHTTPFlow_Integration(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	repo := repository.NewRecipesRepository(db)
	builder := newTestBuilder(repo, writeRecipesCSV(t, sampleRecipes()))
	_, err := builder.BuildOrLoad(ctx)
	require.NoError(t, err)

	gen := &fixedGenerator{answer: "Whisk the eggs with pecorino, never cream."}
	server := setupTestServer(t, repo, gen)

	t.Run("rejects requests without API key", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/v1/chat", "", `{"sessionId":"s1","query":"carbonara?"}`)
		defer func() { require.NoError(t, resp.Body.Close()) }()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("chat turn flows retrieval into the prompt", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/v1/chat", testAPIKey, `{"sessionId":"s1","query":"how do I make carbonara?"}`)
		defer func() { require.NoError(t, resp.Body.Close()) }()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body handlers.ChatResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "s1", body.SessionID)
		assert.Equal(t, gen.answer, body.Answer)

		// Retrieved documents came from the real store.
		assert.Contains(t, gen.prompt, "guanciale")
		assert.Contains(t, gen.prompt, "CONTEXT FROM DATABASE:")
	})

	t.Run("history accumulates and reset clears it", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/v1/chat", testAPIKey, `{"sessionId":"s2","query":"suggest a dessert"}`)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postJSON(t, server.URL+"/v1/chat", testAPIKey, `{"sessionId":"s2","query":"something lighter"}`)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, gen.prompt, "Human: suggest a dessert",
			"second turn must see the first turn in history")

		resp = postJSON(t, server.URL+"/v1/sessions/s2/reset", testAPIKey, "")
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = postJSON(t, server.URL+"/v1/chat", testAPIKey, `{"sessionId":"s2","query":"and now?"}`)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotContains(t, gen.prompt, "Human: suggest a dessert",
			"reset must clear the session history")
	})
}
