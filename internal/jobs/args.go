// Package jobs provides River job workers for async processing tasks.
package jobs

// ReembedJobArgs contains the arguments for a recipe re-embedding job.
// The stored vector is recomputed from the recipe's document text, so imported
// embeddings drift back into agreement with the live embedding model.
type ReembedJobArgs struct {
	// Collection is the vector collection the recipe belongs to
	Collection string `json:"collection"`

	// RecipeID is the id of the recipe row to re-embed
	RecipeID string `json:"recipe_id"`

	// Document is the text to embed
	Document string `json:"document"`
}

// Kind returns the job type identifier for River
func (ReembedJobArgs) Kind() string { return "reembed_recipe" }
