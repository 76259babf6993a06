package service

import (
	"strings"

	"github.com/trattoria/chef/internal/models"
)

// ContextSeparator joins retrieved documents in the prompt. A horizontal-rule
// delimiter framed by blank lines never appears inside recipe text, so the
// context block stays splittable.
const ContextSeparator = "\n\n---\n\n"

// FormatContext concatenates the document field of each match, in ranked order,
// into one bounded context block. An empty result produces an empty string; the
// orchestrator treats that as valid input and degrades gracefully.
func FormatContext(matches []models.RecipeMatch) string {
	if len(matches) == 0 {
		return ""
	}

	docs := make([]string, len(matches))
	for i, m := range matches {
		docs[i] = m.Document
	}

	return strings.Join(docs, ContextSeparator)
}
