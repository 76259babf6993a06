// Command ingest forces a full rebuild of the recipe collection from the source
// CSV, regardless of whether the stored collection is valid. Use it after
// swapping the source file; the running API picks up the new rows immediately.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/trattoria/chef/internal/config"
	"github.com/trattoria/chef/internal/repository"
	"github.com/trattoria/chef/internal/store"
	"github.com/trattoria/chef/pkg/database"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL,
		database.WithAfterConnect(database.RegisterPgvector))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	builder := store.NewBuilder(store.BuilderParams{
		Repo:       repository.NewRecipesRepository(db),
		Collection: cfg.CollectionName,
		CSVPath:    cfg.RecipesCSVPath,
		BatchSize:  cfg.IngestBatchSize,
		Dimensions: cfg.EmbeddingDimensions,
		Logger:     slog.Default(),
	})

	start := time.Now()

	meta, err := builder.Rebuild(ctx)
	if err != nil {
		slog.Error("Rebuild failed", "error", err, "csv", cfg.RecipesCSVPath)
		os.Exit(1)
	}

	slog.Info("Rebuild complete",
		"collection", meta.Name,
		"records", meta.Count,
		"dimension", meta.Dimension,
		"duration", time.Since(start),
	)
}

// setupLogging configures slog with the specified log level
func setupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}
