package jobs

import (
	"context"
)

// JobInserter is an interface for inserting jobs into the queue.
// This allows callers to enqueue jobs without knowing about River directly.
type JobInserter interface {
	// InsertReembedJob enqueues a recipe re-embedding job.
	// Returns an error if the job could not be inserted.
	InsertReembedJob(ctx context.Context, args ReembedJobArgs) error
}
