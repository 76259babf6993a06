package store

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trattoria/chef/internal/cheferrors"
	"github.com/trattoria/chef/internal/models"
	"github.com/trattoria/chef/internal/repository"
)

type fakeRepo struct {
	meta    *models.CollectionMeta
	metaErr error
	count   int

	drops        int
	ensuredDims  []int
	inserts      [][]models.RecipeRecord
	putMetaCalls []models.CollectionMeta
}

func (f *fakeRepo) EnsureSchema(_ context.Context, dimension int) error {
	f.ensuredDims = append(f.ensuredDims, dimension)
	return nil
}

func (f *fakeRepo) Drop(_ context.Context, _ string) error {
	f.drops++
	f.meta = nil
	f.count = 0
	return nil
}

func (f *fakeRepo) GetMeta(_ context.Context, _ string) (models.CollectionMeta, error) {
	if f.metaErr != nil {
		return models.CollectionMeta{}, f.metaErr
	}
	if f.meta == nil {
		return models.CollectionMeta{}, repository.ErrCollectionNotFound
	}
	return *f.meta, nil
}

func (f *fakeRepo) PutMeta(_ context.Context, meta models.CollectionMeta) error {
	f.putMetaCalls = append(f.putMetaCalls, meta)
	m := meta
	f.meta = &m
	return nil
}

func (f *fakeRepo) Count(_ context.Context, _ string) (int, error) {
	return f.count, nil
}

func (f *fakeRepo) InsertBatch(_ context.Context, _ string, records []models.RecipeRecord) error {
	batch := make([]models.RecipeRecord, len(records))
	copy(batch, records)
	f.inserts = append(f.inserts, batch)
	f.count += len(records)
	return nil
}

// writeSourceCSV writes a dataset with n rows and 2-dimensional embeddings.
func writeSourceCSV(t *testing.T, n int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "recipes.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"Nome", "Categoria", "Link", "embed_text", "embeddings"}))

	for i := 0; i < n; i++ {
		require.NoError(t, w.Write([]string{
			"Recipe " + strconv.Itoa(i),
			"primi",
			"https://example.com/" + strconv.Itoa(i),
			"Recipe " + strconv.Itoa(i) + ": ingredients and steps",
			"[0." + strconv.Itoa(i+1) + ", 0.5]",
		}))
	}

	w.Flush()
	require.NoError(t, w.Error())

	return path
}

func newTestBuilder(repo Repository, csvPath string, batchSize int) *Builder {
	return NewBuilder(BuilderParams{
		Repo:       repo,
		Collection: "recipes_collection",
		CSVPath:    csvPath,
		BatchSize:  batchSize,
	})
}

func TestBuildOrLoad_RebuildsWhenMissing(t *testing.T) {
	repo := &fakeRepo{}
	b := newTestBuilder(repo, writeSourceCSV(t, 3), 1000)

	meta, err := b.BuildOrLoad(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "recipes_collection", meta.Name)
	assert.Equal(t, models.MetricCosine, meta.Metric)
	assert.Equal(t, 2, meta.Dimension)
	assert.Equal(t, 3, meta.Count)

	assert.Equal(t, 1, repo.drops)
	require.Len(t, repo.inserts, 1)
	require.Len(t, repo.inserts[0], 3)

	// Row index becomes the record id.
	assert.Equal(t, "0", repo.inserts[0][0].ID)
	assert.Equal(t, "2", repo.inserts[0][2].ID)
	assert.Equal(t, "Recipe 1", repo.inserts[0][1].Metadata.Name)
	assert.Equal(t, "primi", repo.inserts[0][1].Metadata.Category)
	assert.Len(t, repo.inserts[0][0].Embedding, 2)
}

func TestBuildOrLoad_Idempotent(t *testing.T) {
	repo := &fakeRepo{}
	b := newTestBuilder(repo, writeSourceCSV(t, 3), 1000)

	first, err := b.BuildOrLoad(context.Background())
	require.NoError(t, err)

	second, err := b.BuildOrLoad(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.drops, "second call must not rebuild")
	assert.Len(t, repo.inserts, 1)
}

func TestBuildOrLoad_RebuildsOnCountMismatch(t *testing.T) {
	repo := &fakeRepo{
		meta:  &models.CollectionMeta{Name: "recipes_collection", Metric: models.MetricCosine, Dimension: 2, Count: 10},
		count: 7, // stored rows disagree with metadata
	}
	b := newTestBuilder(repo, writeSourceCSV(t, 4), 1000)

	meta, err := b.BuildOrLoad(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, meta.Count, "rebuilt count equals source row count")
	assert.Equal(t, 1, repo.drops)
}

func TestBuildOrLoad_RebuildsOnWrongMetric(t *testing.T) {
	repo := &fakeRepo{
		meta:  &models.CollectionMeta{Name: "recipes_collection", Metric: "l2", Dimension: 2, Count: 2},
		count: 2,
	}
	b := newTestBuilder(repo, writeSourceCSV(t, 2), 1000)

	_, err := b.BuildOrLoad(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.drops)
}

func TestBuildOrLoad_BatchesInserts(t *testing.T) {
	repo := &fakeRepo{}
	b := newTestBuilder(repo, writeSourceCSV(t, 5), 2)

	_, err := b.BuildOrLoad(context.Background())
	require.NoError(t, err)

	require.Len(t, repo.inserts, 3)
	assert.Len(t, repo.inserts[0], 2)
	assert.Len(t, repo.inserts[1], 2)
	assert.Len(t, repo.inserts[2], 1)
}

func TestBuildOrLoad_MalformedEmbeddingFailsWholeRebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.csv")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"Nome", "Categoria", "Link", "embed_text", "embeddings"}))
	require.NoError(t, w.Write([]string{"Good", "primi", "", "good doc", "[0.1, 0.2]"}))
	require.NoError(t, w.Write([]string{"Bad", "primi", "", "bad doc", "[0.1, oops]"}))
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, f.Close())

	repo := &fakeRepo{}
	b := newTestBuilder(repo, path, 1000)

	_, err = b.BuildOrLoad(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cheferrors.ErrIngestion)
	assert.Empty(t, repo.inserts, "no partial inserts on a failed rebuild")
	assert.Empty(t, repo.putMetaCalls)
}

func TestBuildOrLoad_DimensionDriftRebuilds(t *testing.T) {
	repo := &fakeRepo{
		meta:  &models.CollectionMeta{Name: "recipes_collection", Metric: models.MetricCosine, Dimension: 4, Count: 2},
		count: 2,
	}

	b := NewBuilder(BuilderParams{
		Repo:       repo,
		Collection: "recipes_collection",
		CSVPath:    writeSourceCSV(t, 2),
		Dimensions: 2, // deployment now expects 2-dimensional vectors
	})

	meta, err := b.BuildOrLoad(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Dimension)
	assert.Equal(t, 1, repo.drops)
}

func TestBuildOrLoad_ExtraColumnsLandInOverflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.csv")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"Nome", "Categoria", "Link", "Difficolta", "embed_text", "embeddings"}))
	require.NoError(t, w.Write([]string{"Carbonara", "primi", "https://x", "facile", "doc", "[1, 0]"}))
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, f.Close())

	repo := &fakeRepo{}
	b := newTestBuilder(repo, path, 1000)

	_, err = b.BuildOrLoad(context.Background())
	require.NoError(t, err)

	require.Len(t, repo.inserts, 1)
	md := repo.inserts[0][0].Metadata
	assert.Equal(t, "Carbonara", md.Name)
	assert.Equal(t, map[string]string{"Difficolta": "facile"}, md.Extra)
}

func TestRebuild_ForcesEvenWhenValid(t *testing.T) {
	repo := &fakeRepo{
		meta:  &models.CollectionMeta{Name: "recipes_collection", Metric: models.MetricCosine, Dimension: 2, Count: 2},
		count: 2,
	}
	b := newTestBuilder(repo, writeSourceCSV(t, 2), 1000)

	_, err := b.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.drops)
	assert.Len(t, repo.inserts, 1)
}
