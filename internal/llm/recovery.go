package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/tarsline/agentrt/pkg/models"
)

// functionCallPattern matches both <function=name>{"args"}</function> and
// <function=name{"args"}</function> (missing '>'), tolerating a missing
// closing '<' before /function>.
var functionCallPattern = regexp.MustCompile(`(?s)<function=(\w+)>?\s*(.*?)\s*<?/function>`)

// bareAssignPattern matches a bare `name={...}` call with no XML wrapper.
var bareAssignPattern = regexp.MustCompile(`(?s)^(\w+)\s*=\s*(\{.+\})\s*$`)

// parenCallPattern matches a `name({...})` call.
var parenCallPattern = regexp.MustCompile(`(?s)^(\w+)\s*\(\s*(\{.+\})\s*\)\s*$`)

var xmlPattern = regexp.MustCompile(`(?s)<function=\w+.*?</function>`)

// RecoverToolCall attempts to parse a mangled tool-call out of the text a
// provider echoed back in a tool_use_failed error body, trying an XML
// function tag first and then a bare paren-call form. Returns nil if
// nothing matched, letting the caller retry instead.
func RecoverToolCall(errorBody string) *models.ModelResponse {
	failedGen := errorBody
	if m := xmlPattern.FindString(errorBody); m != "" {
		failedGen = m
	}

	calls := functionCallPattern.FindAllStringSubmatch(failedGen, -1)
	if len(calls) == 0 {
		trimmed := strings.TrimSpace(failedGen)
		if m := bareAssignPattern.FindStringSubmatch(trimmed); m != nil {
			calls = [][]string{m}
		} else if m := parenCallPattern.FindStringSubmatch(trimmed); m != nil {
			calls = [][]string{m}
		}
	}
	if len(calls) == 0 {
		return nil
	}

	var content []models.ContentBlock

	if idx := strings.Index(failedGen, "<function="); idx > 0 {
		if text := strings.TrimSpace(failedGen[:idx]); text != "" {
			content = append(content, models.TextBlock(text))
		}
	}

	for _, m := range calls {
		name, argsRaw := m[1], strings.TrimSpace(m[2])
		args := parseRecoveredArgs(argsRaw)
		content = append(content, models.ToolUseBlock(recoveredID(), name, args))
	}

	return &models.ModelResponse{Content: content, StopReason: models.StopToolUse}
}

func parseRecoveredArgs(raw string) json.RawMessage {
	raw = strings.TrimSuffix(raw, ">")
	if raw == "" || !strings.HasPrefix(raw, "{") {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	cleaned := trailingCommaPattern.ReplaceAllString(raw, "}")
	cleaned = strings.ReplaceAll(cleaned, `\"`, `"`)
	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned)
	}
	return json.RawMessage(`{}`)
}

var trailingCommaPattern = regexp.MustCompile(`,\s*\}`)

func recoveredID() string {
	return "call_" + uuid.NewString()[:24]
}
