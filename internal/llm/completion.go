package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/storylab/scribe/internal/stream"
)

const (
	// DefaultBaseURL is the default local inference endpoint.
	DefaultBaseURL = "http://localhost:8080"

	// DefaultTemperature balances coherence and variety for narrative prose.
	DefaultTemperature = 0.7

	// DefaultTopP is the default nucleus sampling cutoff.
	DefaultTopP = 0.9

	// DefaultMaxTokens caps a single beat expansion. 2-3 paragraphs of
	// prose fit comfortably under this.
	DefaultMaxTokens = 512
)

// DefaultStopSequences end generation at turn boundaries or when the model
// drifts into conversational role-play instead of prose.
var DefaultStopSequences = []string{"<|im_end|>", "<|im_start|>", "\nUser:", "\nASSISTANT:"}

// CompletionClient implements Engine against a llama.cpp-style completion
// server. The same protocol is served locally and by the hosted provider;
// remote endpoints additionally require a bearer credential.
// The client holds no state between calls.
type CompletionClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option is a functional option for configuring CompletionClient.
type Option func(*CompletionClient)

// WithBaseURL sets the completion server's base URL.
func WithBaseURL(url string) Option {
	return func(c *CompletionClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithAPIKey sets the bearer credential sent with every request. Required
// for remote providers, unused for local endpoints.
func WithAPIKey(key string) Option {
	return func(c *CompletionClient) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *CompletionClient) {
		c.httpClient = client
	}
}

// NewCompletionClient creates a client with the given options.
func NewCompletionClient(opts ...Option) *CompletionClient {
	c := &CompletionClient{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // model load plus full generation
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// completionRequest is the request body for the /completion resource.
type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float32  `json:"temperature"`
	TopP        float32  `json:"top_p"`
	Stop        []string `json:"stop"`
	Stream      bool     `json:"stream"`
}

// GenerateStream issues a streaming completion request and returns a channel
// of tokens in arrival order. The first token reaches the channel as soon as
// its frame is complete; nothing is buffered ahead of delivery. A non-success
// response status is fatal for the call; retry policy belongs to the
// connection lifecycle, not to a single generation.
func (c *CompletionClient) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error) {
	req, err := c.buildRequest(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	// No client timeout while streaming; the context handles cancellation.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("completion endpoint error (status %d): %s", resp.StatusCode, string(body))
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		err := stream.Drain(ctx, resp.Body, func(ev stream.Event) {
			switch ev.Kind {
			case stream.EventContent:
				select {
				case chunks <- StreamChunk{Token: ev.Text}:
				case <-ctx.Done():
				}
			case stream.EventStop:
				select {
				case chunks <- StreamChunk{Done: true}:
				case <-ctx.Done():
				}
			}
		})
		if err != nil {
			select {
			case chunks <- StreamChunk{Err: fmt.Errorf("reading stream: %w", err), Done: true}:
			case <-ctx.Done():
			}
		}
	}()

	return chunks, nil
}

// Generate streams a completion and returns the concatenated result.
func (c *CompletionClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	chunks, err := c.GenerateStream(ctx, prompt, opts)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return sb.String(), chunk.Err
		}
		sb.WriteString(chunk.Token)
	}
	return sb.String(), nil
}

// Health probes GET /health. Any success status is treated as healthy.
func (c *CompletionClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health probe: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// buildRequest constructs the streaming completion request, applying option
// defaults for unset sampling parameters.
func (c *CompletionClient) buildRequest(ctx context.Context, prompt string, opts GenerateOptions) (*http.Request, error) {
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.TopP <= 0 {
		opts.TopP = DefaultTopP
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if len(opts.Stop) == 0 {
		opts.Stop = DefaultStopSequences
	}

	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		NPredict:    opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return req, nil
}

func (c *CompletionClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Ensure CompletionClient implements the backend interfaces.
var (
	_ Engine      = (*CompletionClient)(nil)
	_ ModelLister = (*CompletionClient)(nil)
)
