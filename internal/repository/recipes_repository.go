package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/trattoria/chef/internal/models"
)

// ErrCollectionNotFound is returned when no metadata row exists for the collection.
var ErrCollectionNotFound = errors.New("collection not found")

// RecipesRepository handles data access for the recipes and collections tables.
type RecipesRepository struct {
	db *pgxpool.Pool
}

// NewRecipesRepository creates a new recipes repository.
func NewRecipesRepository(db *pgxpool.Pool) *RecipesRepository {
	return &RecipesRepository{db: db}
}

// EnsureSchema creates the pgvector extension, the collections metadata table, and
// the recipes table with a vector column of the given dimension plus an HNSW cosine
// index. The dimension is baked into the DDL; changing it requires Drop and rebuild.
func (r *RecipesRepository) EnsureSchema(ctx context.Context, dimension int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS collections (
			name         text PRIMARY KEY,
			metric       text NOT NULL,
			dimension    integer NOT NULL,
			record_count integer NOT NULL,
			built_at     timestamptz NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS recipes (
			collection text NOT NULL,
			id         text NOT NULL,
			embedding  vector(%d) NOT NULL,
			document   text NOT NULL,
			name       text NOT NULL DEFAULT '',
			category   text NOT NULL DEFAULT '',
			link       text NOT NULL DEFAULT '',
			extra      jsonb,
			PRIMARY KEY (collection, id)
		)`, dimension),
		`CREATE INDEX IF NOT EXISTS recipes_embedding_cosine_idx
			ON recipes USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return nil
}

// Drop removes the collection's records, its metadata row, and the recipes table
// itself, so a rebuild can recreate the schema with a possibly different dimension.
func (r *RecipesRepository) Drop(ctx context.Context, collection string) error {
	if _, err := r.db.Exec(ctx, `DROP TABLE IF EXISTS recipes`); err != nil {
		return fmt.Errorf("drop recipes table: %w", err)
	}

	if _, err := r.db.Exec(ctx,
		`DELETE FROM collections WHERE name = $1`, collection,
	); err != nil {
		// collections may not exist yet on a fresh database
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "42P01" {
			return nil
		}

		return fmt.Errorf("delete collection meta: %w", err)
	}

	return nil
}

// GetMeta returns the metadata row for the collection.
// Returns ErrCollectionNotFound when no row exists.
func (r *RecipesRepository) GetMeta(ctx context.Context, collection string) (models.CollectionMeta, error) {
	var meta models.CollectionMeta

	err := r.db.QueryRow(ctx,
		`SELECT name, metric, dimension, record_count FROM collections WHERE name = $1`,
		collection,
	).Scan(&meta.Name, &meta.Metric, &meta.Dimension, &meta.Count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CollectionMeta{}, ErrCollectionNotFound
		}

		return models.CollectionMeta{}, fmt.Errorf("get collection meta: %w", err)
	}

	return meta, nil
}

// PutMeta inserts or replaces the metadata row for the collection.
func (r *RecipesRepository) PutMeta(ctx context.Context, meta models.CollectionMeta) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO collections (name, metric, dimension, record_count, built_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name)
		DO UPDATE SET metric = EXCLUDED.metric, dimension = EXCLUDED.dimension,
			record_count = EXCLUDED.record_count, built_at = EXCLUDED.built_at`,
		meta.Name, meta.Metric, meta.Dimension, meta.Count, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("put collection meta: %w", err)
	}

	return nil
}

// Count returns the number of records stored for the collection.
func (r *RecipesRepository) Count(ctx context.Context, collection string) (int, error) {
	var count int

	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM recipes WHERE collection = $1`, collection,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recipes: %w", err)
	}

	return count, nil
}

// InsertBatch inserts the given records into the collection in one pipelined batch.
// IDs are explicit and stable, so insertion order does not affect correctness.
func (r *RecipesRepository) InsertBatch(ctx context.Context, collection string, records []models.RecipeRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		extra := rec.Metadata.Extra
		if len(extra) == 0 {
			extra = nil
		}

		batch.Queue(`
			INSERT INTO recipes (collection, id, embedding, document, name, category, link, extra)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			collection, rec.ID, pgvector.NewVector(rec.Embedding), rec.Document,
			rec.Metadata.Name, rec.Metadata.Category, rec.Metadata.Link, extra,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert recipes batch: %w", err)
		}
	}

	return nil
}

// Nearest returns up to k recipes ordered by descending cosine similarity to
// queryEmbedding (score = 1 - cosine distance). Fewer than k rows returns all
// available; an empty collection returns no rows and no error.
func (r *RecipesRepository) Nearest(
	ctx context.Context, collection string, queryEmbedding []float32, k int,
) ([]models.RecipeMatch, error) {
	queryVec := pgvector.NewVector(queryEmbedding)

	rows, err := r.db.Query(ctx, `
		SELECT id, document, name, category, link, (1 - (embedding <=> $1)) AS score
		FROM recipes
		WHERE collection = $2
		ORDER BY embedding <=> $1
		LIMIT $3`, queryVec, collection, k)
	if err != nil {
		return nil, fmt.Errorf("nearest recipes: %w", err)
	}

	defer rows.Close()

	var results []models.RecipeMatch

	for rows.Next() {
		var m models.RecipeMatch

		if err := rows.Scan(&m.ID, &m.Document, &m.Metadata.Name, &m.Metadata.Category,
			&m.Metadata.Link, &m.Score); err != nil {
			return nil, fmt.Errorf("scan recipe match: %w", err)
		}

		results = append(results, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nearest: %w", err)
	}

	return results, nil
}

// ListDocuments returns the id and document text of every record in the collection,
// ordered by id. Used by the re-embedding backfill to recompute vectors from text.
func (r *RecipesRepository) ListDocuments(
	ctx context.Context, collection string,
) (ids []string, documents []string, err error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, document FROM recipes
		WHERE collection = $1
		ORDER BY id`, collection)
	if err != nil {
		return nil, nil, fmt.Errorf("list documents: %w", err)
	}

	defer rows.Close()

	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, nil, fmt.Errorf("scan document row: %w", err)
		}

		ids = append(ids, id)
		documents = append(documents, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating documents: %w", err)
	}

	return ids, documents, nil
}

// UpdateEmbedding replaces the stored vector for one record.
func (r *RecipesRepository) UpdateEmbedding(
	ctx context.Context, collection, id string, embedding []float32,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE recipes SET embedding = $1 WHERE collection = $2 AND id = $3`,
		pgvector.NewVector(embedding), collection, id,
	)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update embedding: record %s not found", id)
	}

	return nil
}
