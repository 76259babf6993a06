// Package models contains the domain types shared across repository, store, and services.
package models

// RecipeMetadata is the typed metadata carried with every recipe. Extra holds
// source columns that have no dedicated field, for forward compatibility.
type RecipeMetadata struct {
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Link     string            `json:"link"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// RecipeRecord is one immutable unit of the ingested corpus: the text used for
// similarity matching plus its precomputed embedding and metadata.
// ID is the source row index as a string, stable within one build.
type RecipeRecord struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  RecipeMetadata
}

// RecipeMatch is one retrieval hit: the matched recipe's document and metadata
// with its cosine similarity score (0..1). Embeddings are not carried downstream.
type RecipeMatch struct {
	ID       string
	Document string
	Metadata RecipeMetadata
	Score    float64
}

// CollectionMeta describes a persisted collection: its similarity metric, vector
// dimension, and the record count written at build time. Used by the build-or-load
// validation to detect corruption and configuration drift.
type CollectionMeta struct {
	Name      string
	Metric    string
	Dimension int
	Count     int
}

// MetricCosine is the only similarity metric supported; changing it requires a rebuild.
const MetricCosine = "cosine"
