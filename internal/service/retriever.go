// Package service contains the retrieval-and-generation pipeline: retriever,
// context assembly, conversation state, and the chat orchestrator.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trattoria/chef/internal/cheferrors"
	"github.com/trattoria/chef/internal/embeddings"
	"github.com/trattoria/chef/internal/models"
	"github.com/trattoria/chef/internal/observability"
)

// ErrEmptyQuery is returned when a query is empty after trimming.
var ErrEmptyQuery = cheferrors.NewValidationError("query", "query is required and must be non-empty")

// RecipesRepositoryForRetrieval provides the similarity search the retriever needs.
type RecipesRepositoryForRetrieval interface {
	Nearest(ctx context.Context, collection string, queryEmbedding []float32, k int) ([]models.RecipeMatch, error)
}

// Retriever embeds a query and fetches the top-k nearest recipes.
// Query embeddings are never cached; every call re-embeds.
type Retriever struct {
	embeddingClient embeddings.Client
	repo            RecipesRepositoryForRetrieval
	collection      string
	provider        string
	defaultTopK     int
	metrics         observability.ChefMetrics
	logger          *slog.Logger
}

// RetrieverParams configures a Retriever. Metrics may be nil (no recording).
type RetrieverParams struct {
	EmbeddingClient embeddings.Client
	Repo            RecipesRepositoryForRetrieval
	Collection      string
	// Provider labels embedding-call metrics (e.g. "ollama").
	Provider    string
	DefaultTopK int
	Metrics     observability.ChefMetrics
	Logger      *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(p RetrieverParams) *Retriever {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	topK := p.DefaultTopK
	if topK < 1 {
		topK = 5
	}

	return &Retriever{
		embeddingClient: p.EmbeddingClient,
		repo:            p.Repo,
		collection:      p.Collection,
		provider:        p.Provider,
		defaultTopK:     topK,
		metrics:         p.Metrics,
		logger:          logger,
	}
}

// Retrieve returns up to k recipes ordered by descending similarity to the query.
// k < 1 uses the configured default. A collection with fewer than k records
// returns all of them; an empty collection returns an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.RecipeMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	if k < 1 {
		k = r.defaultTopK
	}

	start := time.Now()

	embedding, err := r.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		r.logger.Error("retrieve: create embedding failed", "error", err, "topK", k)

		if r.metrics != nil {
			r.metrics.RecordEmbeddingCall(ctx, r.provider, observability.OutcomeEmbeddingError)
		}

		return nil, fmt.Errorf("create embedding: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordEmbeddingCall(ctx, r.provider, observability.OutcomeOK)
	}

	matches, err := r.repo.Nearest(ctx, r.collection, embedding, k)
	if err != nil {
		r.logger.Error("retrieve: nearest failed", "error", err, "collection", r.collection)

		return nil, fmt.Errorf("nearest recipes: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordRetrieval(ctx, len(matches), time.Since(start))
	}

	if r.logger.Enabled(ctx, slog.LevelDebug) {
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Metadata.Name)
		}

		r.logger.DebugContext(ctx, "retrieved recipes", "matches", names, "topK", k)
	}

	return matches, nil
}
