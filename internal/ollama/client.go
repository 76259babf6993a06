// Package ollama provides embedding and generation clients for a local Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/trattoria/chef/internal/cheferrors"
	"github.com/trattoria/chef/internal/embeddings"
	"github.com/trattoria/chef/internal/generation"
)

var (
	// ErrEmptyInput is returned when CreateEmbedding is called with empty input.
	ErrEmptyInput = errors.New("ollama: input text is empty")
	// ErrDimensionMismatch is returned when the response embedding length does not match configured dimensions.
	ErrDimensionMismatch = errors.New("ollama: embedding dimension mismatch")
)

const defaultBaseURL = "http://localhost:11434"

// Client calls the native Ollama API. It implements both embeddings.Client
// (POST /api/embeddings) and generation.Generator (POST /api/generate).
type Client struct {
	baseURL        string
	embeddingModel string
	generateModel  string
	dimensions     int
	httpClient     *retryablehttp.Client
}

var (
	_ embeddings.Client    = (*Client)(nil)
	_ generation.Generator = (*Client)(nil)
)

// ClientOptions configures the Client.
type ClientOptions struct {
	// BaseURL of the Ollama server (default: http://localhost:11434)
	BaseURL string
	// EmbeddingModel used by CreateEmbedding
	EmbeddingModel string
	// GenerateModel used by Generate and GenerateStream
	GenerateModel string
	// Dimensions the embedding model is expected to produce
	Dimensions int
	// RetryMax is the connection-level retry budget (default: 2)
	RetryMax int
	// Timeout is the HTTP client timeout (default: 300s; local models can be slow)
	Timeout time.Duration
}

// NewClient creates an Ollama client.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = 2
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil // disable retryablehttp's default logger; callers log failures

	return &Client{
		baseURL:        strings.TrimSuffix(opts.BaseURL, "/"),
		embeddingModel: opts.EmbeddingModel,
		generateModel:  opts.GenerateModel,
		dimensions:     opts.Dimensions,
		httpClient:     retryClient,
	}
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int { return c.dimensions }

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// CreateEmbedding returns the embedding vector for the given text.
func (c *Client) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	var out embeddingResponse
	if err := c.postJSON(ctx, "/api/embeddings", embeddingRequest{
		Model:  c.embeddingModel,
		Prompt: text,
	}, &out); err != nil {
		return nil, fmt.Errorf("ollama embedding: %w",
			cheferrors.NewServiceUnavailableError("ollama embeddings", err.Error()))
	}

	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embedding: %w",
			cheferrors.NewServiceUnavailableError("ollama embeddings", "empty embedding in response"))
	}

	if c.dimensions > 0 && len(out.Embedding) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(out.Embedding), c.dimensions)
	}

	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}

	return vec, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate produces a complete answer for the prompt in one call.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	if err := c.postJSON(ctx, "/api/generate", generateRequest{
		Model:  c.generateModel,
		Prompt: prompt,
		Stream: false,
	}, &out); err != nil {
		return "", fmt.Errorf("ollama generate: %w", cheferrors.NewGenerationError(err.Error()))
	}

	return out.Response, nil
}

// GenerateStream produces the answer as a stream of NDJSON fragments.
// The returned channel closes after the Done (or error) fragment.
func (c *Client) GenerateStream(ctx context.Context, prompt string) (<-chan generation.Fragment, error) {
	resp, err := c.post(ctx, "/api/generate", generateRequest{
		Model:  c.generateModel,
		Prompt: prompt,
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama generate stream: %w", cheferrors.NewGenerationError(err.Error()))
	}

	ch := make(chan generation.Fragment, 64)

	// Sends must never block past cancellation: a consumer that abandons the
	// stream stops receiving, and an unguarded send would pin this goroutine
	// and the response body forever once the buffer fills.
	send := func(frag generation.Fragment) bool {
		select {
		case ch <- frag:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk generateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue // skip malformed lines
			}

			if !send(generation.Fragment{Content: chunk.Response, Done: chunk.Done}) {
				return
			}

			if chunk.Done {
				return
			}
		}

		if err := ctx.Err(); err != nil {
			send(generation.Fragment{Done: true, Err: err})

			return
		}

		if err := scanner.Err(); err != nil {
			send(generation.Fragment{
				Done: true,
				Err:  fmt.Errorf("ollama generate stream: %w", cheferrors.NewGenerationError(err.Error())),
			})

			return
		}

		// Stream ended without a done marker; treat as complete.
		send(generation.Fragment{Done: true})
	}()

	return ch, nil
}

// postJSON posts body and decodes the JSON response into out, closing the body.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// post sends a JSON POST and returns the response with an open body on 200.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	return resp, nil
}
