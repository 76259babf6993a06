package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reembedJobRow(t *testing.T, attempt, maxAttempts int) *rivertype.JobRow {
	t.Helper()

	encoded, err := json.Marshal(ReembedJobArgs{
		Collection: "recipes_collection",
		RecipeID:   "42",
		Document:   "Carbonara: uova, guanciale, pecorino",
	})
	require.NoError(t, err)

	return &rivertype.JobRow{
		ID:          7,
		Kind:        ReembedJobArgs{}.Kind(),
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		EncodedArgs: encoded,
	}
}

func TestErrorHandler_HandleError(t *testing.T) {
	t.Run("logs recipe id and collection for reembed jobs", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewErrorHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

		res := h.HandleError(context.Background(), reembedJobRow(t, 1, 5), errors.New("model offline"))
		assert.Nil(t, res, "default retry behavior expected")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "job failed", line["msg"])
		assert.Equal(t, "reembed_recipe", line["job_kind"])
		assert.Equal(t, "recipes_collection", line["collection"])
		assert.Equal(t, "42", line["recipe_id"])
	})

	t.Run("marks exhausted attempts as permanent", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewErrorHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

		h.HandleError(context.Background(), reembedJobRow(t, 5, 5), errors.New("model offline"))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "job failed permanently", line["msg"])
	})

	t.Run("unknown kinds log without recipe attrs", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewErrorHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

		h.HandleError(context.Background(), &rivertype.JobRow{ID: 9, Kind: "other", MaxAttempts: 3}, errors.New("boom"))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "other", line["job_kind"])
		assert.NotContains(t, line, "recipe_id")
	})
}

func TestErrorHandler_HandlePanic(t *testing.T) {
	var buf bytes.Buffer
	h := NewErrorHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

	res := h.HandlePanic(context.Background(), reembedJobRow(t, 1, 5), "nil deref", "stack")
	assert.Nil(t, res)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "job panicked", line["msg"])
	assert.Equal(t, "42", line["recipe_id"])
}
