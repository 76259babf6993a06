// Command reembed recomputes recipe embeddings against the live embedding model.
// It enqueues one River job per recipe and processes the queue in this process,
// rate limited so a local model server is not flooded. Run it after changing
// EMBEDDING_MODEL so stored vectors and query vectors come from the same model.
// Stop with SIGINT once the queue drains; jobs are unique per recipe, so an
// interrupted run can simply be restarted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"golang.org/x/time/rate"

	"github.com/trattoria/chef/internal/config"
	"github.com/trattoria/chef/internal/embeddings"
	"github.com/trattoria/chef/internal/googleai"
	"github.com/trattoria/chef/internal/jobs"
	"github.com/trattoria/chef/internal/ollama"
	"github.com/trattoria/chef/internal/openai"
	"github.com/trattoria/chef/internal/repository"
	"github.com/trattoria/chef/pkg/database"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	setupLogging(cfg.LogLevel)

	ctx := context.Background()

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL,
		database.WithAfterConnect(database.RegisterPgvector))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)

		return exitFailure
	}
	defer db.Close()

	embeddingClient, err := newEmbeddingClient(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create embedding client", "error", err)

		return exitFailure
	}

	recipesRepo := repository.NewRecipesRepository(db)

	worker := jobs.NewReembedWorker(jobs.ReembedWorkerDeps{
		EmbeddingClient: embeddingClient,
		Updater:         recipesRepo,
		RateLimiter:     rate.NewLimiter(rate.Limit(cfg.EmbeddingRateLimit), 1),
	})

	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverWorkers},
		},
		Workers:      workers,
		ErrorHandler: jobs.NewErrorHandler(slog.Default()),
		JobTimeout:   60 * time.Second,
		MaxAttempts:  cfg.RiverMaxRetries,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)

		return exitFailure
	}

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River", "error", err)

		return exitFailure
	}

	inserter := jobs.NewRiverJobInserter(riverClient)

	stats, err := jobs.Backfill(ctx, recipesRepo, inserter, cfg.CollectionName)
	if err != nil {
		slog.Error("Backfill failed", "error", err)

		if stopErr := riverClient.Stop(ctx); stopErr != nil {
			slog.Error("River stop failed", "error", stopErr)
		}

		return exitFailure
	}

	slog.Info("Backfill enqueued", "recipes", stats.RecipesEnqueued, "errors", stats.Errors)
	fmt.Printf("Enqueued %d re-embedding job(s); processing, Ctrl-C to stop.\n", stats.RecipesEnqueued)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Stopping River job queue...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := riverClient.Stop(stopCtx); err != nil {
		slog.Error("River forced to shutdown", "error", err)

		return exitFailure
	}

	return exitSuccess
}

var errUnsupportedProvider = errors.New("unsupported provider")

// newEmbeddingClient builds the embedding gateway for the configured provider.
func newEmbeddingClient(ctx context.Context, cfg *config.Config) (embeddings.Client, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		opts := []openai.ClientOption{
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
			openai.WithDimensions(cfg.EmbeddingDimensions),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}

		return openai.NewClient(cfg.OpenAIAPIKey, opts...), nil
	case config.ProviderOllama:
		return ollama.NewClient(ollama.ClientOptions{
			BaseURL:        cfg.OllamaBaseURL,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimensions:     cfg.EmbeddingDimensions,
		}), nil
	case config.ProviderGoogle:
		client, err := googleai.NewClient(ctx, cfg.GoogleAPIKey,
			googleai.WithModel(cfg.EmbeddingModel),
			googleai.WithDimensions(cfg.EmbeddingDimensions),
		)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		return client, nil
	default:
		return nil, fmt.Errorf("%w: embedding provider %s", errUnsupportedProvider, cfg.EmbeddingProvider)
	}
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
