package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/trattoria/chef/internal/api/handlers"
	"github.com/trattoria/chef/internal/api/middleware"
	"github.com/trattoria/chef/internal/config"
	"github.com/trattoria/chef/internal/embeddings"
	"github.com/trattoria/chef/internal/generation"
	"github.com/trattoria/chef/internal/googleai"
	"github.com/trattoria/chef/internal/jobs"
	"github.com/trattoria/chef/internal/observability"
	"github.com/trattoria/chef/internal/ollama"
	"github.com/trattoria/chef/internal/openai"
	"github.com/trattoria/chef/internal/repository"
	"github.com/trattoria/chef/internal/service"
	"github.com/trattoria/chef/internal/store"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg           *config.Config
	db            *pgxpool.Pool
	server        *http.Server
	river         *river.Client[pgx.Tx]
	meterProvider observability.MeterProviderShutdown
}

const maxRequestBodyBytes = 1 << 20 // 1 MiB; chat bodies are small

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

// newGenerator builds the generative backend for the configured provider.
func newGenerator(cfg *config.Config) (generation.Generator, error) {
	switch cfg.GenerationProvider {
	case config.ProviderOpenAI:
		opts := []openai.ClientOption{
			openai.WithChatModel(cfg.GenerationModel),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}

		return openai.NewClient(cfg.OpenAIAPIKey, opts...), nil
	case config.ProviderOllama:
		return ollama.NewClient(ollama.ClientOptions{
			BaseURL:       cfg.OllamaBaseURL,
			GenerateModel: cfg.GenerationModel,
		}), nil
	default:
		return nil, fmt.Errorf("%w: generation provider %s", errUnsupportedProvider, cfg.GenerationProvider)
	}
}

// loadSystemPrompt returns the prompt file's contents when configured, otherwise
// the built-in default.
func loadSystemPrompt(cfg *config.Config) (string, error) {
	if cfg.ChatSystemPromptPath == "" {
		return service.DefaultSystemPrompt, nil
	}

	data, err := os.ReadFile(cfg.ChatSystemPromptPath)
	if err != nil {
		return "", fmt.Errorf("read system prompt file: %w", err)
	}

	return string(data), nil
}

// NewApp builds and wires all components, including the startup build-or-load of
// the recipe collection. It does not start the HTTP server; call Run to start
// and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (*App, error) {
	var (
		meterProvider  observability.MeterProviderShutdown
		metricsHandler http.Handler
		metrics        observability.ChefMetrics
		err            error
	)

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		meterProvider, metricsHandler, metrics, err = observability.NewMeterProvider(ctx, observability.MeterProviderConfig{})
		if err != nil {
			return nil, fmt.Errorf("create meter provider: %w", err)
		}
	}

	// Install TraceContextHandler unconditionally so request_id and session_id appear in logs.
	defaultHandler := slog.Default().Handler()
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(defaultHandler)))

	if mp, ok := meterProvider.(metric.MeterProvider); ok {
		otel.SetMeterProvider(mp)
	}

	embeddingClient, err := newEmbeddingClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	generator, err := newGenerator(cfg)
	if err != nil {
		return nil, err
	}

	recipesRepo := repository.NewRecipesRepository(db)

	builder := store.NewBuilder(store.BuilderParams{
		Repo:       recipesRepo,
		Collection: cfg.CollectionName,
		CSVPath:    cfg.RecipesCSVPath,
		BatchSize:  cfg.IngestBatchSize,
		Dimensions: cfg.EmbeddingDimensions,
		Metrics:    metrics,
		Logger:     slog.Default(),
	})

	meta, err := builder.BuildOrLoad(ctx)
	if err != nil {
		return nil, fmt.Errorf("build or load collection: %w", err)
	}

	slog.Info("collection ready",
		"collection", meta.Name,
		"metric", meta.Metric,
		"dimension", meta.Dimension,
		"records", meta.Count,
	)

	retriever := service.NewRetriever(service.RetrieverParams{
		EmbeddingClient: embeddingClient,
		Repo:            recipesRepo,
		Collection:      cfg.CollectionName,
		Provider:        cfg.EmbeddingProvider,
		DefaultTopK:     cfg.RetrievalTopK,
		Metrics:         metrics,
		Logger:          slog.Default(),
	})

	sessions, err := service.NewSessionStore(cfg.SessionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	systemPrompt, err := loadSystemPrompt(cfg)
	if err != nil {
		return nil, err
	}

	chatService := service.NewChatService(service.ChatServiceParams{
		Retriever:       retriever,
		Generator:       generator,
		Sessions:        sessions,
		SystemPrompt:    systemPrompt,
		MaxHistoryTurns: cfg.ChatMaxHistoryTurns,
		Metrics:         metrics,
		Logger:          slog.Default(),
	})

	chatHandler := handlers.NewChatHandler(chatService)
	healthHandler := handlers.NewHealthHandler(db)

	// The reembed worker runs in-process when River is enabled, so an operator
	// can enqueue backfill jobs from cmd/reembed while the API handles them.
	var riverClient *river.Client[pgx.Tx]
	if cfg.RiverEnabled {
		riverClient, err = newRiverClient(cfg, db, embeddingClient, recipesRepo)
		if err != nil {
			return nil, fmt.Errorf("create River client: %w", err)
		}

		slog.Info("River job queue enabled",
			"workers", cfg.RiverWorkers,
			"max_retries", cfg.RiverMaxRetries,
			"rate_limit", cfg.EmbeddingRateLimit,
		)
	}

	server := newHTTPServer(cfg, chatHandler, healthHandler, metricsHandler, metrics)

	return &App{
		cfg:           cfg,
		db:            db,
		server:        server,
		river:         riverClient,
		meterProvider: meterProvider,
	}, nil
}

// newRiverClient builds the River client with the reembed worker registered.
func newRiverClient(
	cfg *config.Config,
	db *pgxpool.Pool,
	embeddingClient embeddings.Client,
	recipesRepo *repository.RecipesRepository,
) (*river.Client[pgx.Tx], error) {
	worker := jobs.NewReembedWorker(jobs.ReembedWorkerDeps{
		EmbeddingClient: embeddingClient,
		Updater:         recipesRepo,
		RateLimiter:     rate.NewLimiter(rate.Limit(cfg.EmbeddingRateLimit), 1),
	})

	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	return river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverWorkers},
		},
		Workers:      workers,
		ErrorHandler: jobs.NewErrorHandler(slog.Default()),
		JobTimeout:   60 * time.Second,
		MaxAttempts:  cfg.RiverMaxRetries,
	})
}

// newHTTPServer builds the HTTP server and muxes (no auth on /health and /metrics,
// API key on /v1/). Handler chain: RequestID -> otelhttp(Metrics(Logging(mux))) so
// access logs carry request_id and durations cover the full request.
func newHTTPServer(
	cfg *config.Config,
	chat *handlers.ChatHandler,
	health *handlers.HealthHandler,
	metricsHandler http.Handler,
	metrics observability.ChefMetrics,
) *http.Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /health", health.Check)

	if metricsHandler != nil {
		public.Handle("GET /metrics", metricsHandler)
	}

	protected := http.NewServeMux()
	bounded := middleware.MaxBody(maxRequestBodyBytes)
	protected.Handle("POST /v1/chat", bounded(http.HandlerFunc(chat.Chat)))
	protected.Handle("POST /v1/sessions/{id}/reset", bounded(http.HandlerFunc(chat.ResetSession)))
	// The stream route stays outside MaxBody's response buffering; the handler
	// bounds its own request body.
	protected.HandleFunc("POST /v1/chat/stream", chat.ChatStream)

	protectedWithAuth := middleware.Auth(cfg.APIKey)(middleware.SessionID(protected))
	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedWithAuth)
	mux.Handle("/", public)

	otelOpts := []otelhttp.Option{
		// Skip instrumentation noise from health checks and scrapes.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}

	inner := middleware.Metrics(metrics)(middleware.Logging(mux))
	handler := otelhttp.NewHandler(inner, "chef-api", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout = 15 * time.Second
		// Streaming responses can run for minutes on local models.
		writeTimeout = 5 * time.Minute
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server and River, then blocks until ctx is cancelled
// (e.g. signal) or a component fails. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	riverCtx, cancelRiver := context.WithCancel(ctx)
	defer cancelRiver()

	if a.river != nil {
		go func() {
			if err := a.river.Start(riverCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("river: %w", err):
				default:
				}
			}
		}()
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops the server, River, then the meter provider. Call after Run returns.
func (a *App) Shutdown(ctx context.Context) error {
	var first error

	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		first = fmt.Errorf("server shutdown: %w", err)
	}

	if a.river != nil {
		if err := a.river.Stop(ctx); err != nil {
			if first == nil {
				first = fmt.Errorf("river stop: %w", err)
			} else {
				slog.Error("river stop", "error", err)
			}
		}
	}

	if a.meterProvider != nil {
		if err := a.meterProvider.Shutdown(ctx); err != nil {
			if first == nil {
				first = fmt.Errorf("meter provider shutdown: %w", err)
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}
