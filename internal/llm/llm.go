// Package llm provides the client for the completion backend that expands
// beats into prose, for both a locally hosted inference server and a remote
// hosted provider.
package llm

import (
	"context"
)

// GenerateOptions configures a single completion request.
type GenerateOptions struct {
	// Temperature controls sampling randomness (0.0 = deterministic).
	Temperature float32

	// TopP is the nucleus sampling cutoff.
	TopP float32

	// MaxTokens limits the number of tokens generated (n_predict).
	MaxTokens int

	// Stop sequences end generation when emitted. Defaults to
	// DefaultStopSequences when empty.
	Stop []string
}

// StreamChunk is a single token delivery from a streaming generation.
type StreamChunk struct {
	// Token contains the generated text fragment.
	Token string

	// Done indicates the stream has concluded, either by an explicit stop
	// signal from the backend or by end of stream.
	Done bool

	// Err contains any error that occurred during streaming.
	Err error
}

// Engine is the interface the rest of the service uses to reach an
// inference backend.
type Engine interface {
	// Generate sends a prompt and blocks until the full response is
	// received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream sends a prompt and returns a channel that delivers
	// tokens in the backend's emission order. The channel is closed when
	// generation concludes or fails; callers should check StreamChunk.Err.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)

	// Health probes the backend's health endpoint. Any success status is
	// treated as healthy.
	Health(ctx context.Context) error
}

// ModelLister is implemented by clients that can enumerate the models a
// remote provider offers.
type ModelLister interface {
	// ListModels retrieves the provider's model catalog.
	ListModels(ctx context.Context) ([]Model, error)
}

// Model describes one entry in a provider's model catalog.
type Model struct {
	// ID is the provider's model identifier, used directly in requests.
	ID string

	// Name is a human-readable label; may equal ID.
	Name string

	// Free marks a free-tier model. Free entries sort before paid ones in
	// the normalized catalog; otherwise provider order is preserved.
	Free bool
}
