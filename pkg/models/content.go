package models

import (
	"encoding/json"
	"time"
)

// BlockKind tags the variant of a ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is a tagged union over the three shapes a turn can carry.
// Exactly one of Text, ToolUse, ToolResult is populated, selected by Kind.
type ContentBlock struct {
	Kind BlockKind `json:"kind"`

	Text string `json:"text,omitempty"`

	ToolUseID   string          `json:"tool_use_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`

	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`
}

// TextBlock builds a Text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ToolUseBlock builds a ToolUse content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock builds a ToolResult content block bound to a prior ToolUse id.
func ToolResultBlock(toolUseID, content string) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolResultForID: toolUseID, ToolResultText: content}
}

// Turn is one entry in a conversation: a role plus an ordered content payload.
// User turns are either a single Text block or a list of ToolResult blocks;
// assistant turns may mix Text and ToolUse blocks; tool-result turns carry
// only ToolResult blocks.
type Turn struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolSpec describes a tool's name, purpose, and input shape to a model.
// `done` and `stuck` are injected into every agent as the two terminal tools.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

const (
	ToolDone  = "done"
	ToolStuck = "stuck"
)

// StopReason is why a model turn ended.
type StopReason string

const (
	StopToolUse  StopReason = "tool-use"
	StopEndTurn  StopReason = "end-turn"
)

// Usage carries token accounting for a single model call.
type Usage struct {
	InTokens  int `json:"in_tokens"`
	OutTokens int `json:"out_tokens"`
}

// ModelResponse is the canonical shape every provider normalizes into.
type ModelResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ToolUses returns the ToolUse blocks of the response, in order.
func (m ModelResponse) ToolUses() []ContentBlock {
	out := make([]ContentBlock, 0, len(m.Content))
	for _, b := range m.Content {
		if b.Kind == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// AgentResult is what an agent loop run produces on termination.
type AgentResult struct {
	Success     bool   `json:"success"`
	Content     string `json:"content"`
	Steps       int    `json:"steps"`
	Stuck       bool   `json:"stuck"`
	StuckReason string `json:"stuck_reason,omitempty"`
}

// EscalationStrategy names the next action the escalation manager chose.
type EscalationStrategy string

const (
	StrategyRetry     EscalationStrategy = "retry"
	StrategyReroute   EscalationStrategy = "reroute"
	StrategyDecompose EscalationStrategy = "decompose"
	StrategyAskUser   EscalationStrategy = "ask-user"
)

// EscalationDecision is the escalation manager's verdict for a stuck agent.
type EscalationDecision struct {
	Strategy    EscalationStrategy `json:"strategy"`
	Agent       string             `json:"agent,omitempty"`
	Guidance    string             `json:"guidance,omitempty"`
	UserMessage string             `json:"user_message,omitempty"`
}

// Event is one entry on the event bus: a typed, timestamped, JSON-serializable fact.
type Event struct {
	ID   int64          `json:"id"`
	Type string         `json:"type"`
	TS   time.Time      `json:"ts"`
	Data map[string]any `json:"data,omitempty"`
}

// FailureRecord is the escalation manager's in-memory failure log entry.
type FailureRecord struct {
	Agent      string    `json:"agent"`
	TaskPrefix string    `json:"task_prefix"`
	Reason     string    `json:"reason"`
	Attempt    int       `json:"attempt"`
	Timestamp  time.Time `json:"timestamp"`
}

// ScratchpadEntry is one key-addressed slot of the inter-agent scratchpad.
type ScratchpadEntry struct {
	Key    string    `json:"key"`
	Value  any       `json:"value"`
	Kind   string    `json:"kind"`
	Writer string    `json:"writer"`
	TS     time.Time `json:"ts"`
}

// MemoryOutcome is whether a recorded agent run succeeded or failed.
type MemoryOutcome string

const (
	OutcomeSuccess MemoryOutcome = "success"
	OutcomeFailure MemoryOutcome = "failure"
)

// AgentMemoryRecord is one append-only line of an agent's outcome log.
type AgentMemoryRecord struct {
	Agent     string        `json:"agent"`
	Task      string        `json:"task"`
	Outcome   MemoryOutcome `json:"outcome"`
	Details   string        `json:"details,omitempty"`
	Steps     int           `json:"steps"`
	Timestamp time.Time     `json:"timestamp"`
}

// ClassifierResult is the output of task classification, rule-based or model-fallback.
type ClassifierResult struct {
	Category     string           `json:"category"`
	Agents       []string         `json:"agents"`
	Confidence   float64          `json:"confidence"`
	NeedsModel   bool             `json:"needs_model"`
	SubTasks     []SubTask        `json:"sub_tasks,omitempty"`
	Dependencies map[int][]int    `json:"dependencies,omitempty"`
}

// SubTask is one decomposed unit of a multi-agent classification.
type SubTask struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// EscalationStats summarizes the escalation manager's failure log.
type EscalationStats struct {
	TotalFailures int            `json:"total_failures"`
	ByAgent       map[string]int `json:"by_agent"`
	LastFailure   *FailureRecord `json:"last_failure,omitempty"`
}
