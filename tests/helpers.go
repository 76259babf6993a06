// Package tests provides integration test helpers and utilities.
package tests

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trattoria/chef/pkg/database"
)

const (
	testAPIKey     = "test-api-key-12345"
	testCollection = "recipes_collection"
	pgvectorImage  = "pgvector/pgvector:pg16"
)

// startPostgres spins up a pgvector-enabled Postgres container and returns a
// connected pool. The container and pool are cleaned up with the test.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, pgvectorImage,
		postgres.WithDatabase("chef"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewPostgresPool(ctx, connStr,
		database.WithAfterConnect(database.RegisterPgvector))
	require.NoError(t, err, "Failed to connect to database")
	t.Cleanup(db.Close)

	return db
}

// testRecipe is one row of a generated source CSV.
type testRecipe struct {
	name      string
	category  string
	link      string
	document  string
	embedding []float32
}

// writeRecipesCSV writes recipes in the source CSV layout (Nome, Categoria,
// Link, embed_text, embeddings) and returns the file path.
func writeRecipesCSV(t *testing.T, recipes []testRecipe) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "recipes.csv")

	f, err := os.Create(path)
	require.NoError(t, err)

	defer func() { require.NoError(t, f.Close()) }()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"Nome", "Categoria", "Link", "embed_text", "embeddings"}))

	for _, r := range recipes {
		require.NoError(t, w.Write([]string{
			r.name, r.category, r.link, r.document, formatEmbedding(r.embedding),
		}))
	}

	w.Flush()
	require.NoError(t, w.Error())

	return path
}

// formatEmbedding renders a vector as the textual list the source CSV carries.
func formatEmbedding(v []float32) string {
	s := "["
	for i, x := range v {
		if i > 0 {
			s += ", "
		}

		s += fmt.Sprintf("%g", x)
	}

	return s + "]"
}
