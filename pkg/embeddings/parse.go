package embeddings

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseVector parses the textual list representation used by the source dataset,
// e.g. "[0.1, -0.25, 3e-4]", into a float32 vector. Whitespace around elements is
// ignored. An empty list ("[]") and any malformed element are errors: the caller
// treats an unparseable embedding as a fatal ingestion failure.
func ParseVector(text string) ([]float32, error) {
	s := strings.TrimSpace(text)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("embedding is not a bracketed list: %.20q", text)
	}

	s = s[1 : len(s)-1]
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("embedding list is empty")
	}

	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))

	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("embedding element %d: %w", i, err)
		}

		vec[i] = float32(f)
	}

	return vec, nil
}
