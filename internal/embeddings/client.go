// Package embeddings defines the embedding gateway boundary.
package embeddings

import "context"

// Client converts text into a fixed-dimension embedding vector.
// The returned length must match the collection's configured dimension.
// Failures wrap cheferrors.ServiceUnavailableError and propagate to the caller;
// no retry happens at this boundary.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length this client is configured to produce.
	Dimensions() int
}
