// Package store implements the build-or-load protocol for the recipe collection:
// open and validate the persisted collection, or rebuild it from the source dataset.
package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/trattoria/chef/internal/cheferrors"
	"github.com/trattoria/chef/internal/models"
	"github.com/trattoria/chef/internal/observability"
	"github.com/trattoria/chef/internal/repository"
	pkgembeddings "github.com/trattoria/chef/pkg/embeddings"
)

// Repository provides the persistence operations the builder needs.
type Repository interface {
	EnsureSchema(ctx context.Context, dimension int) error
	Drop(ctx context.Context, collection string) error
	GetMeta(ctx context.Context, collection string) (models.CollectionMeta, error)
	PutMeta(ctx context.Context, meta models.CollectionMeta) error
	Count(ctx context.Context, collection string) (int, error)
	InsertBatch(ctx context.Context, collection string, records []models.RecipeRecord) error
}

// Builder executes build-or-load for one collection. BuildOrLoad is safe for
// concurrent use; concurrent calls for the same collection coalesce into one
// validation-or-rebuild via singleflight.
type Builder struct {
	repo       Repository
	collection string
	csvPath    string
	batchSize  int
	dimensions int
	metrics    observability.ChefMetrics
	logger     *slog.Logger
	group      singleflight.Group
}

// BuilderParams configures a Builder. Dimensions is the expected vector length;
// zero accepts whatever the first source row carries. Metrics and Logger may be nil.
type BuilderParams struct {
	Repo       Repository
	Collection string
	CSVPath    string
	BatchSize  int
	Dimensions int
	Metrics    observability.ChefMetrics
	Logger     *slog.Logger
}

const defaultBatchSize = 1000

// NewBuilder creates a Builder.
func NewBuilder(p BuilderParams) *Builder {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &Builder{
		repo:       p.Repo,
		collection: p.Collection,
		csvPath:    p.CSVPath,
		batchSize:  batchSize,
		dimensions: p.Dimensions,
		metrics:    p.Metrics,
		logger:     logger,
	}
}

// BuildOrLoad opens the persisted collection when it validates, and otherwise
// deletes whatever is there and rebuilds it from the source dataset. Running it
// against an already-valid collection is a no-op. Unreachable storage is an
// error; corruption is not, it triggers the rebuild.
func (b *Builder) BuildOrLoad(ctx context.Context) (models.CollectionMeta, error) {
	v, err, _ := b.group.Do(b.collection, func() (any, error) {
		meta, err := b.validate(ctx)
		if err == nil {
			b.logger.Info("collection loaded",
				"collection", meta.Name, "records", meta.Count, "dimension", meta.Dimension)

			return meta, nil
		}

		if !errors.Is(err, cheferrors.ErrCorruption) && !errors.Is(err, repository.ErrCollectionNotFound) {
			return models.CollectionMeta{}, err
		}

		b.logger.Warn("collection invalid, rebuilding", "collection", b.collection, "reason", err)

		reason := "corruption"
		if errors.Is(err, repository.ErrCollectionNotFound) {
			reason = "missing"
		}

		if b.metrics != nil {
			b.metrics.RecordRebuild(ctx, reason)
		}

		return b.rebuild(ctx)
	})
	if err != nil {
		return models.CollectionMeta{}, err
	}

	return v.(models.CollectionMeta), nil
}

// Rebuild drops the persisted collection unconditionally and rebuilds from source.
func (b *Builder) Rebuild(ctx context.Context) (models.CollectionMeta, error) {
	v, err, _ := b.group.Do(b.collection, func() (any, error) {
		if b.metrics != nil {
			b.metrics.RecordRebuild(ctx, "forced")
		}

		return b.rebuild(ctx)
	})
	if err != nil {
		return models.CollectionMeta{}, err
	}

	return v.(models.CollectionMeta), nil
}

// validate is the lightweight open check: the metadata row must exist, carry the
// cosine metric and the configured dimension, and the stored row count must match.
func (b *Builder) validate(ctx context.Context) (models.CollectionMeta, error) {
	meta, err := b.repo.GetMeta(ctx, b.collection)
	if err != nil {
		if errors.Is(err, repository.ErrCollectionNotFound) {
			return models.CollectionMeta{}, err
		}

		// Missing tables on a fresh database read as corruption, not infrastructure failure.
		if isUndefinedTable(err) {
			return models.CollectionMeta{}, repository.ErrCollectionNotFound
		}

		return models.CollectionMeta{}, fmt.Errorf("open collection: %w", err)
	}

	if meta.Metric != models.MetricCosine {
		return models.CollectionMeta{}, cheferrors.NewCorruptionError(b.collection,
			fmt.Sprintf("unexpected metric %q", meta.Metric))
	}

	if b.dimensions > 0 && meta.Dimension != b.dimensions {
		return models.CollectionMeta{}, cheferrors.NewCorruptionError(b.collection,
			fmt.Sprintf("dimension %d does not match configured %d", meta.Dimension, b.dimensions))
	}

	count, err := b.repo.Count(ctx, b.collection)
	if err != nil {
		if isUndefinedTable(err) {
			return models.CollectionMeta{}, cheferrors.NewCorruptionError(b.collection, "recipes table missing")
		}

		return models.CollectionMeta{}, fmt.Errorf("validate collection: %w", err)
	}

	if count != meta.Count {
		return models.CollectionMeta{}, cheferrors.NewCorruptionError(b.collection,
			fmt.Sprintf("record count %d does not match metadata %d", count, meta.Count))
	}

	return meta, nil
}

// rebuild deletes any partial data and performs the full batched ingestion.
// A single malformed source row aborts the whole rebuild.
func (b *Builder) rebuild(ctx context.Context) (models.CollectionMeta, error) {
	records, dimension, err := b.readSource()
	if err != nil {
		return models.CollectionMeta{}, err
	}

	if err := b.repo.Drop(ctx, b.collection); err != nil {
		return models.CollectionMeta{}, fmt.Errorf("drop collection: %w", err)
	}

	if err := b.repo.EnsureSchema(ctx, dimension); err != nil {
		return models.CollectionMeta{}, err
	}

	total := len(records)
	for i := 0; i < total; i += b.batchSize {
		end := i + b.batchSize
		if end > total {
			end = total
		}

		if err := b.repo.InsertBatch(ctx, b.collection, records[i:end]); err != nil {
			return models.CollectionMeta{}, err
		}

		b.logger.Info("inserted batch", "collection", b.collection, "inserted", end, "total", total)
	}

	meta := models.CollectionMeta{
		Name:      b.collection,
		Metric:    models.MetricCosine,
		Dimension: dimension,
		Count:     total,
	}

	if err := b.repo.PutMeta(ctx, meta); err != nil {
		return models.CollectionMeta{}, err
	}

	b.logger.Info("collection rebuilt", "collection", b.collection, "records", total, "dimension", dimension)

	return meta, nil
}

// Source dataset columns. The dataset is Italian, so metadata headers are too.
const (
	colEmbeddings = "embeddings"
	colDocument   = "embed_text"
	colName       = "Nome"
	colCategory   = "Categoria"
	colLink       = "Link"
)

// readSource parses the whole source CSV into records before any insertion, so a
// malformed row is found before the store is touched. Row index becomes the id.
func (b *Builder) readSource() ([]models.RecipeRecord, int, error) {
	f, err := os.Open(b.csvPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open source dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // header decides; rows are checked against it below

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read source header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}

	embIdx, ok := cols[colEmbeddings]
	if !ok {
		return nil, 0, fmt.Errorf("source dataset missing %q column", colEmbeddings)
	}

	docIdx, ok := cols[colDocument]
	if !ok {
		return nil, 0, fmt.Errorf("source dataset missing %q column", colDocument)
	}

	var (
		records   []models.RecipeRecord
		dimension = b.dimensions
	)

	for row := 0; ; row++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read source row: %w", cheferrors.NewIngestionError(row, err.Error()))
		}

		if len(fields) != len(header) {
			return nil, 0, fmt.Errorf("parse source row: %w",
				cheferrors.NewIngestionError(row, fmt.Sprintf("has %d fields, header has %d", len(fields), len(header))))
		}

		vec, err := pkgembeddings.ParseVector(fields[embIdx])
		if err != nil {
			return nil, 0, fmt.Errorf("parse source row: %w", cheferrors.NewIngestionError(row, err.Error()))
		}

		if dimension == 0 {
			dimension = len(vec)
		}

		if len(vec) != dimension {
			return nil, 0, fmt.Errorf("parse source row: %w",
				cheferrors.NewIngestionError(row, fmt.Sprintf("embedding dimension %d, want %d", len(vec), dimension)))
		}

		pkgembeddings.NormalizeL2(vec)

		rec := models.RecipeRecord{
			ID:        strconv.Itoa(row),
			Embedding: vec,
			Document:  fields[docIdx],
			Metadata:  metadataFromRow(header, fields, embIdx, docIdx),
		}

		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, 0, fmt.Errorf("source dataset %s has no rows", b.csvPath)
	}

	return records, dimension, nil
}

// metadataFromRow maps the known metadata columns into named fields and keeps any
// remaining columns in the overflow mapping.
func metadataFromRow(header, fields []string, embIdx, docIdx int) models.RecipeMetadata {
	var md models.RecipeMetadata

	for i, h := range header {
		if i == embIdx || i == docIdx {
			continue
		}

		switch strings.TrimSpace(h) {
		case colName:
			md.Name = fields[i]
		case colCategory:
			md.Category = fields[i]
		case colLink:
			md.Link = fields[i]
		default:
			if md.Extra == nil {
				md.Extra = make(map[string]string)
			}
			md.Extra[strings.TrimSpace(h)] = fields[i]
		}
	}

	return md
}

// isUndefinedTable reports whether err is Postgres 42P01 (relation does not exist).
func isUndefinedTable(err error) bool {
	var pgErr interface{ SQLState() string }

	return errors.As(err, &pgErr) && pgErr.SQLState() == "42P01"
}
