// Package agentmemory implements the per-agent append-only outcome log:
// every agent run's success/failure is recorded, and a bounded
// human-readable summary is injected into that agent's next system
// prompt. Grounded on original_source/memory/memory_manager.py's
// JSON-lines history file, adapted to an in-process, mutex-guarded
// manager idiom (internal/memory/manager.go) rather than an on-disk
// vector store — this log is small and ephemeral per run.
package agentmemory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tarsline/agentrt/pkg/models"
)

const (
	maxContextRecords = 10
	maxDetailsLen      = 200
)

// Log is an in-memory, append-only record of agent run outcomes.
type Log struct {
	mu      sync.RWMutex
	records []models.AgentMemoryRecord
}

// New creates an empty agent memory log.
func New() *Log {
	return &Log{}
}

// RecordSuccess appends a successful run.
func (l *Log) RecordSuccess(agent, task string, steps int) {
	l.append(models.AgentMemoryRecord{
		Agent: agent, Task: task, Outcome: models.OutcomeSuccess, Steps: steps,
	})
}

// RecordFailure appends a failed (stuck) run, truncating the reason.
func (l *Log) RecordFailure(agent, task, reason string, steps int) {
	l.append(models.AgentMemoryRecord{
		Agent: agent, Task: task, Outcome: models.OutcomeFailure,
		Details: truncate(reason, maxDetailsLen), Steps: steps,
	})
}

func (l *Log) append(r models.AgentMemoryRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

// GetContext returns a bounded, human-readable summary of an agent's
// recent run history, for injection into that agent's system prompt or
// additional escalation context. Empty string if the agent has no history.
func (l *Log) GetContext(agent string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var relevant []models.AgentMemoryRecord
	for _, r := range l.records {
		if r.Agent == agent {
			relevant = append(relevant, r)
		}
	}
	if len(relevant) == 0 {
		return ""
	}

	var succ, fail int
	for _, r := range relevant {
		if r.Outcome == models.OutcomeSuccess {
			succ++
		} else {
			fail++
		}
	}

	recent := relevant
	if len(recent) > maxContextRecords {
		recent = recent[len(recent)-maxContextRecords:]
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("%s history: %d succeeded, %d failed.", agent, succ, fail))
	for _, r := range recent {
		if r.Outcome == models.OutcomeFailure {
			lines = append(lines, fmt.Sprintf("  - failed: %s (%s)", truncate(r.Task, 80), r.Details))
		}
	}
	return strings.Join(lines, "\n")
}

// AllStats returns success/failure counts for every agent seen so far.
func (l *Log) AllStats() map[string]AgentStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := map[string]AgentStats{}
	for _, r := range l.records {
		s := out[r.Agent]
		if r.Outcome == models.OutcomeSuccess {
			s.Succeeded++
		} else {
			s.Failed++
		}
		out[r.Agent] = s
	}
	return out
}

// AgentStats is one agent's success/failure tally.
type AgentStats struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
