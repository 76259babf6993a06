package jobs

import (
	"context"
	"log/slog"
	"strings"

	"github.com/riverqueue/river"
	"golang.org/x/time/rate"

	"github.com/trattoria/chef/internal/embeddings"
	pkgembeddings "github.com/trattoria/chef/pkg/embeddings"
)

// EmbeddingUpdater replaces the stored vector of one recipe row.
type EmbeddingUpdater interface {
	UpdateEmbedding(ctx context.Context, collection, id string, embedding []float32) error
}

// ReembedWorkerDeps holds the dependencies for the re-embedding worker.
type ReembedWorkerDeps struct {
	EmbeddingClient embeddings.Client
	Updater         EmbeddingUpdater
	RateLimiter     *rate.Limiter
}

// ReembedWorker recomputes recipe embeddings from their document text.
type ReembedWorker struct {
	river.WorkerDefaults[ReembedJobArgs]
	deps ReembedWorkerDeps
}

// NewReembedWorker creates a new re-embedding worker with the given dependencies.
func NewReembedWorker(deps ReembedWorkerDeps) *ReembedWorker {
	return &ReembedWorker{deps: deps}
}

// Work processes a re-embedding job.
func (w *ReembedWorker) Work(ctx context.Context, job *river.Job[ReembedJobArgs]) error {
	args := job.Args

	slog.Debug("processing reembed job",
		"job_id", job.ID,
		"recipe_id", args.RecipeID,
		"text_length", len(args.Document),
	)

	if strings.TrimSpace(args.Document) == "" {
		// Nothing to embed; retrying cannot fix an empty document.
		slog.Warn("skipping recipe with empty document", "job_id", job.ID, "recipe_id", args.RecipeID)
		return nil
	}

	// Wait for rate limit token if configured
	if w.deps.RateLimiter != nil {
		if err := w.deps.RateLimiter.Wait(ctx); err != nil {
			return err
		}
	}

	embedding, err := w.deps.EmbeddingClient.CreateEmbedding(ctx, args.Document)
	if err != nil {
		slog.Error("failed to generate embedding",
			"job_id", job.ID,
			"recipe_id", args.RecipeID,
			"error", err,
		)
		return err // River will retry based on configuration
	}

	pkgembeddings.NormalizeL2(embedding)

	if err := w.deps.Updater.UpdateEmbedding(ctx, args.Collection, args.RecipeID, embedding); err != nil {
		slog.Error("failed to update embedding",
			"job_id", job.ID,
			"recipe_id", args.RecipeID,
			"error", err,
		)
		return err // Retry; the row may be mid-rebuild
	}

	slog.Info("recipe re-embedded",
		"job_id", job.ID,
		"recipe_id", args.RecipeID,
	)

	return nil
}
