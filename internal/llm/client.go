// Package llm normalizes two incompatible provider chat/tool-use APIs
// ("native" content-block style and "function-calling" style) into one
// canonical create/stream contract.
package llm

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/trace"

	"github.com/tarsline/agentrt/internal/observability"
	"github.com/tarsline/agentrt/pkg/models"
)

// Shape selects which wire convention a Provider speaks.
type Shape string

const (
	ShapeNative         Shape = "native"          // Anthropic-style content blocks
	ShapeFunctionCalling Shape = "function_calling" // OpenAI-style tool_calls
)

// TextDelta is one incremental chunk of a streamed response.
type TextDelta struct {
	Text string
}

// Stream is the iterator a streaming Create returns: a channel of text
// deltas that closes when the provider finishes, plus an accessor for the
// accumulated final message. No mutable state escapes beyond the channel.
type Stream struct {
	Deltas <-chan TextDelta
	final  func() (*models.ModelResponse, error)
}

// Final blocks until the stream has closed and returns the synthesized
// ModelResponse (or the terminal error that closed it).
func (s *Stream) Final() (*models.ModelResponse, error) {
	return s.final()
}

// NewStream builds a Stream from outside the package — used by test
// doubles for Provider that need to satisfy the Stream contract without
// access to the unexported final field.
func NewStream(deltas <-chan TextDelta, final func() (*models.ModelResponse, error)) *Stream {
	return &Stream{Deltas: deltas, final: final}
}

// Provider is a single model backend: either shape, selected by config.
type Provider interface {
	Name() string
	Create(ctx context.Context, req Request) (*models.ModelResponse, error)
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// Request bundles the inputs common to create and stream calls.
type Request struct {
	Model     string
	MaxTokens int
	System    string
	Tools     []models.ToolSpec
	Messages  []models.Turn
}

// Client wraps a Provider with retry/backoff and tool-call recovery,
// presenting the same Provider interface to callers (agent loop, brain).
type Client struct {
	provider   Provider
	maxRetries int
	tracer     *observability.Tracer
}

// NewClient builds a retrying client around provider. maxRetries must be >=1
// (config option `max_retries`); values below 1 are clamped to 1.
func NewClient(provider Provider, maxRetries int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{provider: provider, maxRetries: maxRetries}
}

// WithTracer attaches a span emitter around every Create/Stream call.
// Optional; nil-safe if never called, and observability.Tracer itself is a
// no-op when built with an empty collector endpoint.
func (c *Client) WithTracer(t *observability.Tracer) *Client {
	c.tracer = t
	return c
}

func (c *Client) Name() string { return c.provider.Name() }

// Create performs one non-streaming model call, retrying transient errors
// (tool-call recovery first, then exponential backoff).
func (c *Client) Create(ctx context.Context, req Request) (*models.ModelResponse, error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.TraceLLMRequest(ctx, c.provider.Name(), req.Model)
		defer span.End()
		resp, err := withRetry(ctx, c.maxRetries, func() (*models.ModelResponse, error) {
			return c.provider.Create(ctx, req)
		})
		if err != nil {
			c.tracer.RecordError(span, err)
		}
		return resp, err
	}
	return withRetry(ctx, c.maxRetries, func() (*models.ModelResponse, error) {
		return c.provider.Create(ctx, req)
	})
}

// Stream performs one streaming model call with the same retry policy
// applied before the stream is handed to the caller; mid-stream errors are
// not retried (the caller sees them via Stream.Final). The span closes when
// the connection to the provider is established, not when the stream drains
// — draining can run long after the caller has moved on to other work.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.TraceLLMRequest(ctx, c.provider.Name(), req.Model)
		defer span.End()
		stream, err := c.stream(ctx, req)
		if err != nil {
			c.tracer.RecordError(span, err)
		}
		return stream, err
	}
	return c.stream(ctx, req)
}

func (c *Client) stream(ctx context.Context, req Request) (*Stream, error) {
	var stream *Stream
	_, err := withRetry(ctx, c.maxRetries, func() (*models.ModelResponse, error) {
		s, err := c.provider.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		stream = s
		return &models.ModelResponse{}, nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// ToolSpecsWithTerminal returns tools augmented with the two terminal tools
// every agent loop injects.
func ToolSpecsWithTerminal(tools []models.ToolSpec) []models.ToolSpec {
	out := make([]models.ToolSpec, 0, len(tools)+2)
	out = append(out, tools...)
	out = append(out,
		models.ToolSpec{
			Name:        models.ToolDone,
			Description: "Call when the task is fully complete. Provide a short summary.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"]}`),
		},
		models.ToolSpec{
			Name:        models.ToolStuck,
			Description: "Call when you cannot make further progress. Explain why.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string"}},"required":["reason"]}`),
		},
	)
	return out
}
