package llm

import (
	"errors"
	"strings"
)

// ErrorKind classifies a provider error for the retry layer.
type ErrorKind string

const (
	KindTransientToolUse ErrorKind = "tool_use_failed"
	KindTransientRate    ErrorKind = "rate_limit"
	KindFatal            ErrorKind = "fatal"
)

// ProviderError carries the raw message alongside its classification so the
// recovery and retry layers can match on kind without re-parsing strings.
type ProviderError struct {
	Kind ErrorKind
	Body string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Body
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classify inspects a raw error and assigns it a retry kind. Non-matching
// errors are fatal and bubble up immediately.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindFatal
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "tool_use_failed"), strings.Contains(msg, "tool use failed"):
		return KindTransientToolUse
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"), strings.Contains(msg, "429"):
		return KindTransientRate
	default:
		return KindFatal
	}
}

// ErrorBody extracts the raw text a provider echoed back, used by recovery
// to re-parse a malformed tool call out of a tool_use_failed error.
func ErrorBody(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Body
	}
	return err.Error()
}
