// Package openai provides embedding and chat clients over the official OpenAI Go SDK.
// With a custom base URL it also covers OpenAI-compatible local servers (Ollama, vLLM).
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/trattoria/chef/internal/cheferrors"
	"github.com/trattoria/chef/internal/embeddings"
	"github.com/trattoria/chef/internal/generation"
)

var (
	// ErrEmptyInput is returned when CreateEmbedding is called with empty input.
	ErrEmptyInput = errors.New("openai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("openai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains no embedding data.
	ErrNoEmbeddingInResponse = errors.New("openai: no embedding in response")
	// ErrDimensionMismatch is returned when the response embedding length does not match configured dimensions.
	ErrDimensionMismatch = errors.New("openai: embedding dimension mismatch")
	// ErrNoChoicesInResponse is returned when a chat completion contains no choices.
	ErrNoChoicesInResponse = errors.New("openai: no choices in response")
)

const (
	defaultDimension      = 1536
	defaultEmbeddingModel = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	defaultChatModel      = "gpt-4o-mini"
)

// Client calls the OpenAI embeddings and chat APIs via the official SDK.
// It implements both embeddings.Client and generation.Generator.
type Client struct {
	sdk            openaisdk.Client
	embeddingModel string
	chatModel      string
	dimensions     int
}

var (
	_ embeddings.Client    = (*Client)(nil)
	_ generation.Generator = (*Client)(nil)
)

// ClientOption configures the Client.
type ClientOption func(*Client, *[]option.RequestOption)

// WithDimensions sets the requested embedding dimension (must match the collection's vector column).
func WithDimensions(dim int) ClientOption {
	return func(c *Client, _ *[]option.RequestOption) {
		c.dimensions = dim
	}
}

// WithEmbeddingModel sets the embedding model name. Empty uses text-embedding-3-small.
func WithEmbeddingModel(model string) ClientOption {
	return func(c *Client, _ *[]option.RequestOption) {
		if model != "" {
			c.embeddingModel = model
		}
	}
}

// WithChatModel sets the chat completion model name. Empty uses the default.
func WithChatModel(model string) ClientOption {
	return func(c *Client, _ *[]option.RequestOption) {
		if model != "" {
			c.chatModel = model
		}
	}
}

// WithBaseURL points the SDK at an OpenAI-compatible endpoint (e.g. http://localhost:11434/v1).
func WithBaseURL(baseURL string) ClientOption {
	return func(_ *Client, reqOpts *[]option.RequestOption) {
		if baseURL != "" {
			*reqOpts = append(*reqOpts, option.WithBaseURL(baseURL))
		}
	}
}

// NewClient creates an OpenAI client using the official SDK.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		embeddingModel: defaultEmbeddingModel,
		chatModel:      defaultChatModel,
		dimensions:     defaultDimension,
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, opt := range opts {
		opt(client, &reqOpts)
	}

	client.sdk = openaisdk.NewClient(reqOpts...)

	return client
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int { return c.dimensions }

// CreateEmbedding returns the embedding vector for the given text.
// The returned slice length equals the configured dimensions.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	if c.dimensions <= 0 {
		return nil, ErrInvalidDims
	}

	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(input),
		},
		Model:      openaisdk.EmbeddingModel(c.embeddingModel),
		Dimensions: param.NewOpt(int64(c.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w",
			cheferrors.NewServiceUnavailableError("openai embeddings", err.Error()))
	}

	if len(resp.Data) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	emb := resp.Data[0].Embedding
	if len(emb) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), c.dimensions)
	}

	out := make([]float32, len(emb))
	for i := range emb {
		out[i] = float32(emb[i])
	}

	return out, nil
}

// Generate runs one stateless chat completion for the composed prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.sdk.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(prompt),
		},
		Model: openaisdk.ChatModel(c.chatModel),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", cheferrors.NewGenerationError(err.Error()))
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesInResponse
	}

	return resp.Choices[0].Message.Content, nil
}

// GenerateStream runs one chat completion in streaming mode, forwarding content
// deltas as fragments. The channel closes after the Done or error fragment.
func (c *Client) GenerateStream(ctx context.Context, prompt string) (<-chan generation.Fragment, error) {
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, openaisdk.ChatCompletionNewParams{
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(prompt),
		},
		Model: openaisdk.ChatModel(c.chatModel),
	})

	ch := make(chan generation.Fragment, 64)

	// Guarded sends: an abandoned consumer stops receiving, and blocking on a
	// full buffer would leak this goroutine and the open stream.
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
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}

			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !send(generation.Fragment{Content: delta}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(generation.Fragment{
				Done: true,
				Err:  fmt.Errorf("openai chat stream: %w", cheferrors.NewGenerationError(err.Error())),
			})

			return
		}

		send(generation.Fragment{Done: true})
	}()

	return ch, nil
}
