// Package generation defines the generative-service boundary.
package generation

import "context"

// Fragment is one piece of a streamed answer. Done is set on the final fragment;
// a non-nil Err terminates the stream and invalidates the partial answer.
type Fragment struct {
	Content string
	Done    bool
	Err     error
}

// Generator produces answer text for a fully composed prompt. Each call is
// stateless; conversation history travels inside the prompt. Failures wrap
// cheferrors.GenerationError and propagate unmodified to the caller.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream returns a finite, non-restartable fragment stream.
	// The channel is closed after the Done (or error) fragment. Cancelling ctx
	// stops production; consumers must not treat a cancelled stream as a
	// complete answer.
	GenerateStream(ctx context.Context, prompt string) (<-chan Fragment, error)
}
