// Package toolregistry implements the name-keyed tool dispatch contract:
// a ToolHandler is dispatch(name, input) -> string, non-empty on success, an
// "ERROR: " prefix on failure.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/tarsline/agentrt/internal/observability"
	"github.com/tarsline/agentrt/pkg/models"
)

// Tool limits guard against runaway names and oversized payloads.
const (
	MaxNameLength = 256
	MaxParamsSize = 10 << 20 // 10MB
)

// ErrorPrefix marks a dispatch result as a failure signal to the agent loop's
// guard counters. Case-sensitive, by contract.
const ErrorPrefix = "ERROR:"

// Handler is a single tool's dispatch function, closed over whatever
// environment it needs (a browser driver, a messaging client, memory).
type Handler func(ctx context.Context, input map[string]any) string

// Registry stores {name -> ToolSpec} for schema advertisement and
// {name -> Handler} for dispatch. `done` and `stuck` are never registered
// here: they are intercepted by the agent loop before reaching dispatch.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]models.ToolSpec
	handlers map[string]Handler
	tracer   *observability.Tracer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		specs:    make(map[string]models.ToolSpec),
		handlers: make(map[string]Handler),
	}
}

// WithTracer attaches a span emitter around every Dispatch call. Optional;
// nil-safe if never called.
func (r *Registry) WithTracer(t *observability.Tracer) *Registry {
	r.tracer = t
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(spec models.ToolSpec, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
	r.handlers[spec.Name] = handler
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.specs, name)
	delete(r.handlers, name)
}

// Specs returns every registered ToolSpec, for passing to the model client.
func (r *Registry) Specs() []models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}

// Has reports whether a tool by that name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Dispatch runs a tool by name with JSON-decoded input, enforcing the
// name/size guards above before lookup. done/stuck must never reach
// here — the agent loop intercepts them first.
func (r *Registry) Dispatch(ctx context.Context, name string, inputJSON json.RawMessage) string {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.TraceToolExecution(ctx, name)
		defer span.End()
		result := r.dispatch(ctx, name, inputJSON)
		if IsError(result) {
			r.tracer.SetAttributes(span, "tool.error", true)
		}
		return result
	}
	return r.dispatch(ctx, name, inputJSON)
}

func (r *Registry) dispatch(ctx context.Context, name string, inputJSON json.RawMessage) string {
	if len(name) > MaxNameLength {
		return fmt.Sprintf("%s tool name exceeds maximum length of %d characters", ErrorPrefix, MaxNameLength)
	}
	if len(inputJSON) > MaxParamsSize {
		return fmt.Sprintf("%s tool parameters exceed maximum size of %d bytes", ErrorPrefix, MaxParamsSize)
	}

	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("%s tool not found: %s", ErrorPrefix, name)
	}

	var input map[string]any
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &input); err != nil {
			return fmt.Sprintf("%s invalid tool input: %v", ErrorPrefix, err)
		}
	}

	result := safeDispatch(ctx, handler, input)
	if !strings.HasPrefix(result, ErrorPrefix) && result == "" {
		return fmt.Sprintf("%s handler returned empty result", ErrorPrefix)
	}
	return result
}

// safeDispatch wraps a handler call so a panicking handler never crosses the
// dispatch boundary — handlers must not raise, but external collaborators do,
// so the boundary recovers and converts it to an ERROR result.
func safeDispatch(ctx context.Context, handler Handler, input map[string]any) (result string) {
	defer func() {
		if p := recover(); p != nil {
			result = fmt.Sprintf("%s handler panicked: %v", ErrorPrefix, p)
		}
	}()
	return handler(ctx, input)
}

// IsError reports whether a dispatch result is an ERROR:-prefixed failure.
func IsError(result string) bool {
	return strings.HasPrefix(result, ErrorPrefix)
}
