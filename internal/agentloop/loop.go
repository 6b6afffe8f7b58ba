// Package agentloop implements the generic "plan -> tool-call -> observe"
// procedure, phased the way AgenticLoop is (stream -> execute
// tools -> continue), but driven to explicit done/stuck terminal
// signals instead of session persistence.
package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/tarsline/agentrt/internal/eventbus"
	"github.com/tarsline/agentrt/internal/llm"
	"github.com/tarsline/agentrt/internal/metrics"
	"github.com/tarsline/agentrt/internal/toolregistry"
	"github.com/tarsline/agentrt/pkg/models"
)

const (
	// MaxResultBytes truncates a tool result before it's fed back to the model.
	MaxResultBytes = 8 << 10 // 8 KiB

	defaultMaxSteps       = 25
	defaultMinActionBudget = 4
	defaultErrorRatioCap   = 0.5
	defaultUpdateEvery     = 3
)

// Hooks are optional callbacks fired at loop lifecycle points.
type Hooks struct {
	OnStart func()
	OnStep  func(step int)
	OnDone  func(result models.AgentResult)
	OnStuck func(result models.AgentResult)
}

// Config parameterizes one agent loop run.
type Config struct {
	System          string
	Tools           []models.ToolSpec
	Registry        *toolregistry.Registry
	Model           string
	MaxTokens       int
	MaxSteps        int
	MinActionBudget int
	ErrorRatioCap   float64
	MaxToolUsesPerStep int // 0 = unbounded
	UpdateEvery     int
	Hooks           Hooks
	IsCancelled     func() bool // cooperative kill-switch poll
}

func (c *Config) sanitize() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = defaultMaxSteps
	}
	if c.MinActionBudget <= 0 {
		c.MinActionBudget = defaultMinActionBudget
	}
	if c.ErrorRatioCap <= 0 {
		c.ErrorRatioCap = defaultErrorRatioCap
	}
	if c.UpdateEvery <= 0 {
		c.UpdateEvery = defaultUpdateEvery
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
}

// Loop runs one agent: a client, a tool registry, and the configuration
// above. Agent and Orchestrator Brain both embed a Loop; the brain supplies
// a larger step budget and streams text deltas as thinking events.
type Loop struct {
	client  *llm.Client
	bus     *eventbus.Bus
	agent   string // agent name, used on emitted events and in escalation
	metrics *metrics.Metrics
}

// New builds a Loop bound to a model client and event bus.
func New(client *llm.Client, bus *eventbus.Bus, agentName string) *Loop {
	return &Loop{client: client, bus: bus, agent: agentName}
}

// WithMetrics attaches a collector set; optional, nil-safe if never called.
func (l *Loop) WithMetrics(m *metrics.Metrics) *Loop {
	l.metrics = m
	return l
}

// state is the mutable run state threaded through the three phases.
type state struct {
	messages    []models.Turn
	step        int
	dispatches  int
	errorCount  int
}

// Run executes the loop to completion against a seeded task (and optional
// additional context, e.g. escalation guidance or a handoff blob).
func (l *Loop) Run(ctx context.Context, cfg Config, task string, additionalContext string) models.AgentResult {
	cfg.sanitize()
	l.emit("agent_started", map[string]any{"agent": l.agent, "task": task})
	if cfg.Hooks.OnStart != nil {
		cfg.Hooks.OnStart()
	}

	seed := task
	if additionalContext != "" {
		seed = task + "\n\n" + additionalContext
	}

	st := &state{messages: []models.Turn{{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock(seed)}}}}
	tools := llm.ToolSpecsWithTerminal(cfg.Tools)

	for st.step = 1; st.step <= cfg.MaxSteps; st.step++ {
		if cfg.IsCancelled != nil && cfg.IsCancelled() {
			return l.terminateStuck(cfg, st, "cancelled")
		}
		if cfg.Hooks.OnStep != nil {
			cfg.Hooks.OnStep(st.step)
		}
		if l.metrics != nil {
			l.metrics.AgentSteps.WithLabelValues(l.agent).Inc()
		}

		resp, err := l.client.Create(ctx, llm.Request{
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			System:    cfg.System,
			Tools:     tools,
			Messages:  st.messages,
		})
		if err != nil {
			l.emit("error", map[string]any{"agent": l.agent, "error": err.Error()})
			return l.terminateStuck(cfg, st, fmt.Sprintf("model error: %v", err))
		}

		if result, done := l.inspectResponse(ctx, cfg, st, resp); done {
			return result
		}
	}

	return l.terminateStuck(cfg, st, "max steps")
}

// inspectResponse implements algorithm step 3(b)-(d): classify content
// blocks, intercept terminal tools, dispatch the rest, and append the next
// turn pair. Returns (result, true) if the loop should terminate now.
func (l *Loop) inspectResponse(ctx context.Context, cfg Config, st *state, resp *models.ModelResponse) (models.AgentResult, bool) {
	toolUses := resp.ToolUses()

	if cfg.MaxToolUsesPerStep > 0 && len(toolUses) > cfg.MaxToolUsesPerStep {
		rejected := toolUses[cfg.MaxToolUsesPerStep:]
		toolUses = toolUses[:cfg.MaxToolUsesPerStep]
		l.appendAssistantAndAck(st, resp, toolUses)
		for _, r := range rejected {
			st.messages = append(st.messages, toolResultTurn(r.ToolUseID,
				fmt.Sprintf("ERROR: at most %d tool uses allowed per step", cfg.MaxToolUsesPerStep)))
		}
		return models.AgentResult{}, false
	}

	for _, tu := range toolUses {
		if tu.ToolName == models.ToolDone {
			if rejection, ok := l.checkDoneGuards(cfg, st); ok {
				st.messages = append(st.messages, toolResultTurn(tu.ToolUseID, rejection))
				continue
			}
			summary := extractArg(tu.ToolInput, "summary")
			result := models.AgentResult{Success: true, Content: summary, Steps: st.step}
			l.emit("agent_done", map[string]any{"agent": l.agent, "summary": summary, "steps": st.step})
			if cfg.Hooks.OnDone != nil {
				cfg.Hooks.OnDone(result)
			}
			return result, true
		}
		if tu.ToolName == models.ToolStuck {
			reason := extractArg(tu.ToolInput, "reason")
			return l.terminateStuck(cfg, st, reason), true
		}
	}

	if len(toolUses) == 0 && resp.StopReason == models.StopEndTurn {
		st.messages = append(st.messages, models.Turn{Role: models.RoleAssistant, Content: resp.Content})
		st.messages = append(st.messages, models.Turn{
			Role:    models.RoleUser,
			Content: []models.ContentBlock{models.TextBlock("Use a tool. If done, call done; if stuck, call stuck.")},
		})
		return models.AgentResult{}, false
	}

	st.messages = append(st.messages, models.Turn{Role: models.RoleAssistant, Content: resp.Content})
	var results []models.ContentBlock
	for i, tu := range toolUses {
		results = append(results, l.dispatchOne(ctx, cfg, st, tu, i))
	}
	st.messages = append(st.messages, models.Turn{Role: models.RoleUser, Content: results})
	return models.AgentResult{}, false
}

func (l *Loop) appendAssistantAndAck(st *state, resp *models.ModelResponse, accepted []models.ContentBlock) {
	st.messages = append(st.messages, models.Turn{Role: models.RoleAssistant, Content: resp.Content})
}

// dispatchOne handles a single non-terminal ToolUse: dispatch, truncate,
// record a bound ToolResult, track guard counters, emit progress.
func (l *Loop) dispatchOne(ctx context.Context, cfg Config, st *state, tu models.ContentBlock, idx int) models.ContentBlock {
	st.dispatches++
	result := cfg.Registry.Dispatch(ctx, tu.ToolName, tu.ToolInput)
	isError := toolregistry.IsError(result)
	if isError {
		st.errorCount++
	}
	if l.metrics != nil {
		l.metrics.ToolDispatch.WithLabelValues(tu.ToolName, metrics.ToolOutcome(isError)).Inc()
	}
	if len(result) > MaxResultBytes {
		result = result[:MaxResultBytes]
	}

	l.emit("tool_called", map[string]any{"agent": l.agent, "tool": tu.ToolName, "step": st.step})
	l.emit("tool_result", map[string]any{"agent": l.agent, "tool": tu.ToolName, "is_error": isError})
	if st.step%cfg.UpdateEvery == 0 && idx == 0 {
		l.emit("progress", map[string]any{"agent": l.agent, "step": st.step})
	}

	return toolResultTurn(tu.ToolUseID, result).Content[0]
}

// checkDoneGuards rejects `done` when it would fabricate success: a high
// error ratio after at least 3 dispatches, or too few dispatches for a task
// domain that demands observable progress.
func (l *Loop) checkDoneGuards(cfg Config, st *state) (rejection string, rejected bool) {
	if st.dispatches >= 3 {
		ratio := float64(st.errorCount) / float64(st.dispatches)
		if ratio > cfg.ErrorRatioCap {
			return fmt.Sprintf("ERROR: %.0f%% of tool dispatches failed; verify your work before calling done", ratio*100), true
		}
	}
	if st.dispatches < cfg.MinActionBudget {
		return fmt.Sprintf("ERROR: at least %d actions are expected before calling done (%d so far)", cfg.MinActionBudget, st.dispatches), true
	}
	return "", false
}

func (l *Loop) terminateStuck(cfg Config, st *state, reason string) models.AgentResult {
	result := models.AgentResult{Success: false, Stuck: true, StuckReason: reason, Steps: st.step}
	l.emit("agent_stuck", map[string]any{"agent": l.agent, "reason": reason, "steps": st.step})
	if cfg.Hooks.OnStuck != nil {
		cfg.Hooks.OnStuck(result)
	}
	return result
}

func (l *Loop) emit(eventType string, data map[string]any) {
	if l.bus == nil {
		return
	}
	l.bus.Emit(eventType, data)
}

func toolResultTurn(toolUseID, content string) models.Turn {
	return models.Turn{Role: models.RoleTool, Content: []models.ContentBlock{models.ToolResultBlock(toolUseID, content)}}
}

func extractArg(input []byte, key string) string {
	s := string(input)
	marker := `"` + key + `":"`
	idx := strings.Index(s, marker)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return rest
	}
	return rest[:end]
}
