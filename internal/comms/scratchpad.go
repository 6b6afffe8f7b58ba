// Package comms implements inter-agent communication: a shared,
// key-addressed scratchpad and a one-shot handoff slot. Grounded on
// internal/multiagent/handoff_tool.go for the handoff concept, adapted
// from its LLM-tool-driven design (an agent calls a "handoff" tool
// mid-conversation) to a simpler pop-and-clear slot.
package comms

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tarsline/agentrt/pkg/models"
)

// Scratchpad is a shared, mutex-guarded key-value store every agent can
// read and write, used to pass facts (not full conversation context)
// between agents working the same top-level task.
type Scratchpad struct {
	mu      sync.RWMutex
	entries map[string]models.ScratchpadEntry
}

// NewScratchpad creates an empty scratchpad.
func NewScratchpad() *Scratchpad {
	return &Scratchpad{entries: make(map[string]models.ScratchpadEntry)}
}

// Write stores or replaces an entry.
func (s *Scratchpad) Write(key string, value any, kind, writer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = models.ScratchpadEntry{Key: key, Value: value, Kind: kind, Writer: writer, TS: time.Now()}
}

// Read returns the entry for key, if present.
func (s *Scratchpad) Read(key string) (models.ScratchpadEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// ReadByKind returns every entry of a given kind, keyed by its key.
func (s *Scratchpad) ReadByKind(kind string) map[string]models.ScratchpadEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.ScratchpadEntry)
	for k, e := range s.entries {
		if e.Kind == kind {
			out[k] = e
		}
	}
	return out
}

// Summary renders every entry as a short human-readable digest, suitable
// for injecting into a system prompt.
func (s *Scratchpad) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return ""
	}
	var lines []string
	for _, e := range s.entries {
		lines = append(lines, fmt.Sprintf("- [%s] %s (from %s): %v", e.Kind, e.Key, e.Writer, e.Value))
	}
	return strings.Join(lines, "\n")
}

// Clear removes every entry.
func (s *Scratchpad) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]models.ScratchpadEntry)
}

// Handoff is a one-shot, per-recipient blob: A hands to B, and the next
// invocation of B pops (reads and clears) it atomically as additional
// context.
type Handoff struct {
	mu    sync.Mutex
	slots map[string]handoffBlob
}

type handoffBlob struct {
	from    string
	context string
	task    string
}

// NewHandoff creates an empty handoff registry.
func NewHandoff() *Handoff {
	return &Handoff{slots: make(map[string]handoffBlob)}
}

// Send stores a handoff blob for recipient "to", overwriting any unclaimed
// prior handoff to the same agent.
func (h *Handoff) Send(from, to, context, task string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots[to] = handoffBlob{from: from, context: context, task: task}
}

// Pop atomically reads and clears the handoff slot for "agent", returning
// the additional-context suffix to append to that agent's next task
// message. ok is false if nothing was waiting.
func (h *Handoff) Pop(agent string) (context string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	blob, exists := h.slots[agent]
	if !exists {
		return "", false
	}
	delete(h.slots, agent)
	return fmt.Sprintf("Handed off from %s: %s\n\nTask: %s", blob.from, blob.context, blob.task), true
}
