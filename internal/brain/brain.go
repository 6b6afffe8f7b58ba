// Package brain implements the top-level Orchestrator Brain: a
// persistent-history agent that classifies inbound messages, answers
// chat directly, and otherwise deploys sub-agents per the classifier's
// plan, consulting the Escalation Manager when a sub-agent reports stuck.
// Grounded on internal/multiagent.Orchestrator for the deploy/
// event-callback shape, and directly on original_source/brain/planner.py
// for the think() streaming loop's event sequence (thinking_start, thinking
// deltas, api_call, tool_called, tool_result, task_completed).
package brain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tarsline/agentrt/internal/agentloop"
	"github.com/tarsline/agentrt/internal/agentmemory"
	"github.com/tarsline/agentrt/internal/classifier"
	"github.com/tarsline/agentrt/internal/comms"
	"github.com/tarsline/agentrt/internal/escalation"
	"github.com/tarsline/agentrt/internal/eventbus"
	"github.com/tarsline/agentrt/internal/llm"
	"github.com/tarsline/agentrt/internal/metrics"
	"github.com/tarsline/agentrt/internal/toolregistry"
	"github.com/tarsline/agentrt/pkg/models"
)

const maxHistoryTurns = 40

// SubAgent is a deployable specialist: a name, a system prompt, its own
// tool registry, and a per-deploy step budget.
type SubAgent struct {
	Name      string
	System    string
	Registry  *toolregistry.Registry
	MaxSteps  int
}

// Config wires a Brain to its collaborators.
type Config struct {
	Client          *llm.Client
	Bus             *eventbus.Bus
	Model           string
	SystemPrompt    func() string // recomputed per call, e.g. to fold in fresh memory context
	Agents          map[string]*SubAgent
	Memory          *agentmemory.Log
	Scratchpad      *comms.Scratchpad
	Handoff         *comms.Handoff
	Escalation      *escalation.Manager
	ClassifierModel string // model used for classifier LLM fallback
	Metrics         *metrics.Metrics // optional; nil disables instrumentation
}

// Brain is the top-level, persistent-history orchestrator agent.
type Brain struct {
	cfg     Config
	mu      sync.Mutex
	history []models.Turn
}

// New builds a Brain bound to its config.
func New(cfg Config) *Brain {
	if cfg.Escalation == nil {
		cfg.Escalation = escalation.New(3)
	}
	if cfg.Memory == nil {
		cfg.Memory = agentmemory.New()
	}
	return &Brain{cfg: cfg}
}

// Handle classifies an inbound message and either answers directly (chat)
// or deploys the sub-agent plan the classifier produced, consulting
// escalation on any stuck sub-agent.
func (b *Brain) Handle(ctx context.Context, message string) string {
	result := classifier.Classify(message)
	if result.NeedsModel {
		result = classifier.ClassifyWithModel(ctx, b.cfg.Client, b.cfg.ClassifierModel, message)
	}

	if result.Category == classifier.CategoryChat {
		return b.think(ctx, message)
	}

	if len(result.SubTasks) == 0 {
		for _, agentName := range result.Agents {
			result.SubTasks = append(result.SubTasks, models.SubTask{Agent: agentName, Task: message})
		}
	}

	var outputs []string
	for _, sub := range result.SubTasks {
		outputs = append(outputs, b.deploy(ctx, sub.Agent, sub.Task, 1))
	}
	if len(outputs) == 0 {
		return b.think(ctx, message)
	}
	summary := outputs[0]
	for _, o := range outputs[1:] {
		summary += "\n" + o
	}
	return summary
}

// think runs the brain's own conversational loop directly against the
// persisted history — no sub-agent deployment, no terminal tools — for
// plain chat turns. Mirrors planner.py's think() streaming event sequence.
func (b *Brain) think(ctx context.Context, message string) string {
	b.mu.Lock()
	b.history = append(b.history, models.Turn{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock(message)}})
	if len(b.history) > maxHistoryTurns {
		b.history = b.history[len(b.history)-maxHistoryTurns:]
	}
	history := append([]models.Turn(nil), b.history...)
	b.mu.Unlock()

	b.emit("thinking_start", map[string]any{"model": b.cfg.Model})

	start := time.Now()
	stream, err := b.cfg.Client.Stream(ctx, llm.Request{
		Model:     b.cfg.Model,
		MaxTokens: 4096,
		System:    b.systemPrompt(),
		Messages:  history,
	})
	if err != nil {
		b.emit("error", map[string]any{"message": fmt.Sprintf("LLM API error: %v", err)})
		return fmt.Sprintf("LLM API error: %v", err)
	}

	for delta := range stream.Deltas {
		b.emit("thinking", map[string]any{"text": delta.Text, "model": b.cfg.Model})
	}
	resp, err := stream.Final()
	if err != nil {
		b.emit("error", map[string]any{"message": fmt.Sprintf("LLM API error: %v", err)})
		return fmt.Sprintf("LLM API error: %v", err)
	}
	b.emit("api_call", map[string]any{
		"model": b.cfg.Model, "tokens_in": resp.Usage.InTokens, "tokens_out": resp.Usage.OutTokens,
		"duration": time.Since(start).Seconds(),
	})

	var text string
	for _, block := range resp.Content {
		if block.Kind == models.BlockText {
			text += block.Text
		}
	}

	b.mu.Lock()
	b.history = append(b.history, models.Turn{Role: models.RoleAssistant, Content: resp.Content})
	b.mu.Unlock()

	b.emit("task_completed", map[string]any{"response": truncate(text, 300)})
	return text
}

// deploy runs a named sub-agent on task, applying the brain-supplied
// model client, step budget, and scratchpad/handoff context. On stuck, it
// consults the Escalation Manager and applies the returned strategy.
func (b *Brain) deploy(ctx context.Context, agentName, task string, attempt int) string {
	sub, ok := b.cfg.Agents[agentName]
	if !ok {
		return fmt.Sprintf("no such agent: %s", agentName)
	}

	additionalContext := b.cfg.Memory.GetContext(agentName)
	if handoffCtx, ok := b.cfg.Handoff.Pop(agentName); ok {
		if additionalContext != "" {
			additionalContext += "\n\n"
		}
		additionalContext += handoffCtx
	}

	loop := agentloop.New(b.cfg.Client, b.cfg.Bus, agentName).WithMetrics(b.cfg.Metrics)
	maxSteps := sub.MaxSteps
	result := loop.Run(ctx, agentloop.Config{
		System:   sub.System,
		Registry: sub.Registry,
		Model:    b.cfg.Model,
		MaxSteps: maxSteps,
	}, task, additionalContext)

	if result.Success {
		b.cfg.Memory.RecordSuccess(agentName, task, result.Steps)
		return result.Content
	}

	b.cfg.Memory.RecordFailure(agentName, task, result.StuckReason, result.Steps)

	decision := b.cfg.Escalation.HandleStuck(agentName, task, result.StuckReason, attempt)
	switch decision.Strategy {
	case models.StrategyAskUser:
		return decision.UserMessage
	case models.StrategyRetry:
		return b.deploy(ctx, decision.Agent, task+"\n\n"+decision.Guidance, attempt+1)
	case models.StrategyReroute:
		b.cfg.Handoff.Send(agentName, decision.Agent, decision.Guidance, task)
		return b.deploy(ctx, decision.Agent, task, attempt+1)
	case models.StrategyDecompose:
		return b.deploy(ctx, decision.Agent, task+"\n\n"+decision.Guidance, attempt+1)
	default:
		return decision.UserMessage
	}
}

func (b *Brain) systemPrompt() string {
	if b.cfg.SystemPrompt != nil {
		return b.cfg.SystemPrompt()
	}
	return ""
}

func (b *Brain) emit(eventType string, data map[string]any) {
	if b.cfg.Bus == nil {
		return
	}
	b.cfg.Bus.Emit(eventType, data)
}

// ResetConversation clears the brain's persisted history.
func (b *Brain) ResetConversation() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
	b.emit("status_change", map[string]any{"status": "online", "label": "READY"})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
