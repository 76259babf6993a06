package observability

// Metric names. Keep these stable; dashboards reference them.
const (
	MetricNameRequestCount      = "http.server.request_count"
	MetricNameRequestDuration   = "http.server.duration"
	MetricNameChatTurns         = "chat_turns_total"
	MetricNameChatDuration      = "chat_turn_duration_seconds"
	MetricNameRetrievals        = "retrievals_total"
	MetricNameRetrievalMatches  = "retrieval_matches"
	MetricNameRetrievalDuration = "retrieval_duration_seconds"
	MetricNameEmbeddingCalls    = "embedding_calls_total"
	MetricNameRebuilds          = "collection_rebuilds_total"
)

// Chat and retrieval outcome labels.
const (
	OutcomeOK              = "ok"
	OutcomeEmbeddingError  = "embedding_error"
	OutcomeGenerationError = "generation_error"
	OutcomeRetrievalError  = "retrieval_error"
)
