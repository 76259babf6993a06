// Package embeddings provides utilities for embedding vectors (L2 normalization, textual parsing).
package embeddings

import (
	"math"
)

// NormalizeL2 scales a raw embedding vector to unit length, in place.
// Cosine distance is scale-invariant, but normalized vectors keep stored
// magnitudes uniform across imported and freshly computed embeddings.
func NormalizeL2(vector []float32) {
	var sumSquares float64

	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}

	// A zero vector has no direction; leave it alone.
	if sumSquares == 0 {
		return
	}

	magnitude := math.Sqrt(sumSquares)

	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}
