package jobs

import (
	"context"
	"fmt"
	"log/slog"
)

// DocumentLister returns the ids and document texts of every recipe in a collection.
type DocumentLister interface {
	ListDocuments(ctx context.Context, collection string) (ids []string, documents []string, err error)
}

// BackfillStats holds statistics from a backfill operation.
type BackfillStats struct {
	RecipesEnqueued int
	Errors          int
}

// Backfill enqueues one re-embedding job per recipe in the collection. River's
// uniqueness constraints make a second run while jobs are still queued a no-op.
func Backfill(ctx context.Context, lister DocumentLister, inserter JobInserter, collection string) (*BackfillStats, error) {
	stats := &BackfillStats{}

	ids, documents, err := lister.ListDocuments(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}

	for i, id := range ids {
		if err := inserter.InsertReembedJob(ctx, ReembedJobArgs{
			Collection: collection,
			RecipeID:   id,
			Document:   documents[i],
		}); err != nil {
			slog.Error("failed to enqueue reembed job", "recipe_id", id, "error", err)
			stats.Errors++

			continue
		}

		stats.RecipesEnqueued++
	}

	return stats, nil
}
