package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	meterScope         = "github.com/trattoria/chef/internal/observability"
	defaultServiceName = "trattoria-chef"
	cardinalityLimit   = 2000
)

// latencyHistogramBoundaries are Prometheus-style buckets (seconds). Chat turns
// include a model round trip, so the tail reaches well past typical HTTP latencies.
var latencyHistogramBoundaries = []float64{0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60}

// ChefMetrics is the single metrics interface for the service (HTTP, chat pipeline, store).
type ChefMetrics interface {
	RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration)
	RecordChatTurn(ctx context.Context, outcome string, duration time.Duration)
	RecordRetrieval(ctx context.Context, matches int, duration time.Duration)
	RecordEmbeddingCall(ctx context.Context, provider, outcome string)
	RecordRebuild(ctx context.Context, reason string)
}

// MeterProviderShutdown is the subset of the SDK MeterProvider needed for shutdown.
type MeterProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// MeterProviderConfig holds configuration for creating the MeterProvider and metrics.
type MeterProviderConfig struct {
	// ServiceName is used in the resource (default: trattoria-chef).
	ServiceName string
}

// NewMeterProvider creates a MeterProvider with Prometheus exporter and returns the
// provider, an HTTP handler for /metrics, and ChefMetrics using the provider's Meter.
// Caller must call provider.Shutdown on exit.
func NewMeterProvider(_ context.Context, cfg MeterProviderConfig) (
	provider MeterProviderShutdown, metricsHandler http.Handler, metrics ChefMetrics, err error,
) {
	serviceNameVal := cfg.ServiceName
	if serviceNameVal == "" {
		serviceNameVal = defaultServiceName
	}

	// Use a single resource to avoid Schema URL conflicts when merging with resource.Default().
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceNameVal),
	)

	reg := prometheus.NewRegistry()

	exporter, err := prometheusexporter.New(
		prometheusexporter.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: MetricNameRequestDuration},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries}},
			),
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: MetricNameChatDuration},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries}},
			),
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: MetricNameRetrievalDuration},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries}},
			),
		),
	)
	provider = mp
	meter := mp.Meter(meterScope)

	metrics, err = newMetricsFromMeter(meter)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create metrics instruments: %w", err)
	}

	metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return provider, metricsHandler, metrics, nil
}

func newMetricsFromMeter(meter metric.Meter) (*chefMetricsImpl, error) {
	requestCount, err := meter.Int64Counter(
		MetricNameRequestCount,
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("request_count: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		MetricNameRequestDuration,
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("http.server.duration: %w", err)
	}

	chatTurns, err := meter.Int64Counter(
		MetricNameChatTurns,
		metric.WithDescription("Chat turns by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("chat_turns_total: %w", err)
	}

	chatDuration, err := meter.Float64Histogram(
		MetricNameChatDuration,
		metric.WithDescription("Full chat turn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("chat_turn_duration_seconds: %w", err)
	}

	retrievals, err := meter.Int64Counter(
		MetricNameRetrievals,
		metric.WithDescription("Retrieval operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("retrievals_total: %w", err)
	}

	retrievalMatches, err := meter.Int64Histogram(
		MetricNameRetrievalMatches,
		metric.WithDescription("Matches returned per retrieval"),
	)
	if err != nil {
		return nil, fmt.Errorf("retrieval_matches: %w", err)
	}

	retrievalDuration, err := meter.Float64Histogram(
		MetricNameRetrievalDuration,
		metric.WithDescription("Retrieval duration in seconds (embedding + ANN query)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("retrieval_duration_seconds: %w", err)
	}

	embeddingCalls, err := meter.Int64Counter(
		MetricNameEmbeddingCalls,
		metric.WithDescription("Embedding gateway calls by provider and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("embedding_calls_total: %w", err)
	}

	rebuilds, err := meter.Int64Counter(
		MetricNameRebuilds,
		metric.WithDescription("Collection rebuilds by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("collection_rebuilds_total: %w", err)
	}

	return &chefMetricsImpl{
		requestCount:      requestCount,
		requestDuration:   requestDuration,
		chatTurns:         chatTurns,
		chatDuration:      chatDuration,
		retrievals:        retrievals,
		retrievalMatches:  retrievalMatches,
		retrievalDuration: retrievalDuration,
		embeddingCalls:    embeddingCalls,
		rebuilds:          rebuilds,
	}, nil
}

type chefMetricsImpl struct {
	requestCount      metric.Int64Counter
	requestDuration   metric.Float64Histogram
	chatTurns         metric.Int64Counter
	chatDuration      metric.Float64Histogram
	retrievals        metric.Int64Counter
	retrievalMatches  metric.Int64Histogram
	retrievalDuration metric.Float64Histogram
	embeddingCalls    metric.Int64Counter
	rebuilds          metric.Int64Counter
}

func (m *chefMetricsImpl) RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration) {
	attrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", statusClass),
	)
	m.requestCount.Add(ctx, 1, metric.WithAttributeSet(attrs))
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributeSet(attrs))
}

func (m *chefMetricsImpl) RecordChatTurn(ctx context.Context, outcome string, duration time.Duration) {
	attrs := attribute.NewSet(attribute.String("outcome", outcome))
	m.chatTurns.Add(ctx, 1, metric.WithAttributeSet(attrs))
	m.chatDuration.Record(ctx, duration.Seconds(), metric.WithAttributeSet(attrs))
}

func (m *chefMetricsImpl) RecordRetrieval(ctx context.Context, matches int, duration time.Duration) {
	m.retrievals.Add(ctx, 1)
	m.retrievalMatches.Record(ctx, int64(matches))
	m.retrievalDuration.Record(ctx, duration.Seconds())
}

func (m *chefMetricsImpl) RecordEmbeddingCall(ctx context.Context, provider, outcome string) {
	m.embeddingCalls.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)))
}

func (m *chefMetricsImpl) RecordRebuild(ctx context.Context, reason string) {
	m.rebuilds.Add(ctx, 1, metric.WithAttributeSet(attribute.NewSet(
		attribute.String("reason", reason),
	)))
}
