// Package escalation implements the four-attempt failure recovery chain
// a stuck agent is run through: retry with guidance, reroute to an
// alternative agent, decompose into smaller steps, ask the user. Ported
// almost verbatim in structure from escalation.py's EscalationManager.
package escalation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tarsline/agentrt/internal/metrics"
	"github.com/tarsline/agentrt/pkg/models"
)

// RerouteMap lists, per agent, which other agents can be tried when it
// gets stuck. Browser tasks never reroute — no other agent can browse.
var RerouteMap = map[string][]string{
	"browser":  {},
	"coder":    {"system"},
	"system":   {"coder"},
	"research": {"browser"},
	"file":     {"coder", "system"},
}

const (
	taskPrefixLen   = 200
	reasonPrefixLen = 500
	userMsgTaskLen  = 300
	userMsgReasonLen = 300
)

// Manager tracks a failure log across a run and decides the next
// escalation strategy for a stuck agent.
type Manager struct {
	mu         sync.Mutex
	maxRetries int
	failures   []models.FailureRecord
	metrics    *metrics.Metrics
}

// New builds a Manager. maxRetries is currently informational — the
// attempt-number strategy table below is fixed at 4 rungs regardless,
// mirroring the original's unused max_retries field.
func New(maxRetries int) *Manager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Manager{maxRetries: maxRetries}
}

// WithMetrics attaches a collector set; optional, nil-safe if never called.
func (m *Manager) WithMetrics(met *metrics.Metrics) *Manager {
	m.metrics = met
	return m
}

// HandleStuck records the failure and returns the escalation decision for
// the given attempt number (1=retry, 2=reroute, 3=decompose, >=4=ask-user).
// A reroute with no untried alternative falls through to decompose.
func (m *Manager) HandleStuck(agent, task, reason string, attempt int) (decision models.EscalationDecision) {
	m.mu.Lock()
	m.failures = append(m.failures, models.FailureRecord{
		Agent:      agent,
		TaskPrefix: truncate(task, taskPrefixLen),
		Reason:     truncate(reason, reasonPrefixLen),
		Attempt:    attempt,
		Timestamp:  time.Now(),
	})
	m.mu.Unlock()

	if m.metrics != nil {
		defer func() {
			m.metrics.EscalationStrategy.WithLabelValues(string(decision.Strategy)).Inc()
		}()
	}

	switch attempt {
	case 1:
		return models.EscalationDecision{
			Strategy:    models.StrategyRetry,
			Agent:       agent,
			Guidance:    m.retryGuidance(agent, reason),
			UserMessage: fmt.Sprintf("Retrying %s with additional guidance based on failure analysis.", agent),
		}
	case 2:
		if alt := m.findAlternative(agent, task); alt != "" {
			return models.EscalationDecision{
				Strategy:    models.StrategyReroute,
				Agent:       alt,
				Guidance:    fmt.Sprintf("Previous attempt by %s failed: %s\n\nTry a different approach to accomplish: %s", agent, reason, task),
				UserMessage: fmt.Sprintf("Rerouting from %s to %s for a different approach.", agent, alt),
			}
		}
		return m.HandleStuck(agent, task, reason, 3)
	case 3:
		return models.EscalationDecision{
			Strategy: models.StrategyDecompose,
			Agent:    agent,
			Guidance: fmt.Sprintf("The full task failed. Try breaking it into smaller steps and doing the parts you CAN do.\n\n"+
				"Original task: %s\nPrevious failure: %s\n\nDo whatever partial work is possible and report what you accomplished vs what you couldn't do.", task, reason),
			UserMessage: fmt.Sprintf("Decomposing task into smaller pieces for %s.", agent),
		}
	default:
		return models.EscalationDecision{
			Strategy:    models.StrategyAskUser,
			UserMessage: m.buildUserMessage(agent, task, reason),
		}
	}
}

// retryGuidance synthesizes keyword-triggered advice from the stuck
// reason's text, specialized per agent the way the original branches on
// "click"/"timeout"/"error"/"captcha" etc.
func (m *Manager) retryGuidance(agent, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous attempt failed with this reason: %s\n\nGuidance for retry:", reason)
	lower := strings.ToLower(reason)

	switch agent {
	case "browser":
		b.WriteString("\n- CRITICAL: Call 'look' first to see what's ACTUALLY on the page")
		b.WriteString("\n- ONLY use selectors from the 'look' output — never guess selector names")
		b.WriteString("\n- Many signup forms show ONE field at a time. Fill it, click Next, then look again.")
		if strings.Contains(lower, "click") || strings.Contains(lower, "button") {
			b.WriteString("\n- Use the button's visible text like 'Next' — not '[Next]'")
			b.WriteString("\n- Try using tab + enter to navigate to and activate the element")
		}
		if strings.Contains(lower, "timeout") || strings.Contains(lower, "load") {
			b.WriteString("\n- Wait longer between actions (3-5 seconds)")
			b.WriteString("\n- Check if the page URL changed — you might be on a different page")
		}
		if strings.Contains(lower, "error") {
			b.WriteString("\n- Check the ERRORS/ALERTS in the 'look' output for page error messages")
			b.WriteString("\n- If a username is taken, try a different one with random numbers")
		}
		if strings.Contains(lower, "dropdown") || strings.Contains(lower, "select") {
			b.WriteString("\n- Use the 'select' tool with the dropdown label text, not CSS selector")
			b.WriteString("\n- Try scrolling down to see if the dropdown options are below the fold")
		}
		if strings.Contains(lower, "captcha") {
			b.WriteString("\n- CAPTCHAs cannot be solved automatically. Report this to the user.")
		}
	case "coder":
		if strings.Contains(lower, "error") || strings.Contains(lower, "traceback") {
			b.WriteString("\n- Read the full error message carefully")
			b.WriteString("\n- Read the relevant file to understand the context")
			b.WriteString("\n- Check if there are missing imports or dependencies")
		}
		if strings.Contains(lower, "permission") {
			b.WriteString("\n- Try using sudo if appropriate")
			b.WriteString("\n- Check file permissions with ls -la")
		}
		if strings.Contains(lower, "not found") {
			b.WriteString("\n- Search for the correct file/path using search_files")
			b.WriteString("\n- Check if the dependency is installed")
		}
	case "system":
		if strings.Contains(lower, "app") {
			b.WriteString("\n- Make sure the app name is exact (case-sensitive)")
			b.WriteString("\n- Try using 'open -a AppName' via run_command instead")
		}
		if strings.Contains(lower, "click") {
			b.WriteString("\n- Take a screenshot first to verify coordinates")
			b.WriteString("\n- Try keyboard shortcuts instead of clicking")
		}
	}

	b.WriteString("\n- Try a completely different approach than what you tried before")
	b.WriteString("\n- If the same method fails twice, it won't work a third time — change strategy")
	return b.String()
}

// findAlternative picks the first reroute candidate not already tried for
// this task (matched on the same truncated task prefix the log uses).
func (m *Manager) findAlternative(failedAgent, task string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := truncate(task, 100)
	tried := map[string]bool{}
	for _, f := range m.failures {
		if truncate(f.TaskPrefix, 100) == prefix {
			tried[f.Agent] = true
		}
	}
	for _, alt := range RerouteMap[failedAgent] {
		if !tried[alt] {
			return alt
		}
	}
	return ""
}

func (m *Manager) buildUserMessage(agent, task, reason string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := truncate(task, 100)
	var relevant []models.FailureRecord
	for _, f := range m.failures {
		if truncate(f.TaskPrefix, 100) == prefix {
			relevant = append(relevant, f)
		}
	}

	tail := relevant
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	var lines []string
	for i, f := range tail {
		lines = append(lines, fmt.Sprintf("  %d. %s: %s", i+1, f.Agent, truncate(f.Reason, 100)))
	}

	return fmt.Sprintf(
		"TARS needs help\n\nTask: %s\n\nI tried %d approaches:\n%s\n\nLast error: %s\n\nWhat should I do? Reply with instructions or 'skip' to move on.",
		truncate(task, userMsgTaskLen), len(relevant), strings.Join(lines, "\n"), truncate(reason, userMsgReasonLen),
	)
}

// ClearLog drops the failure log, e.g. after a successful task.
func (m *Manager) ClearLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = nil
}

// Stats summarizes the failure log.
func (m *Manager) Stats() models.EscalationStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.failures) == 0 {
		return models.EscalationStats{ByAgent: map[string]int{}}
	}

	byAgent := map[string]int{}
	for _, f := range m.failures {
		byAgent[f.Agent]++
	}
	last := m.failures[len(m.failures)-1]
	return models.EscalationStats{TotalFailures: len(m.failures), ByAgent: byAgent, LastFailure: &last}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
