// Package classifier implements task intent classification: a fast
// rule-based pass scores regex pattern hits per agent category, falling
// back to a model call for ambiguous or multi-agent tasks. Ported from
// the original task_classifier.py, with the priority-ranked evaluation
// idiom of internal/multiagent's Router.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/tarsline/agentrt/internal/llm"
	"github.com/tarsline/agentrt/pkg/models"
)

var errNotANumber = errors.New("classifier: not a number")

// scoredCategory is one entry of the ranked score table.
type scoredCategory struct {
	category string
	score    int
}

// Classify runs the rule-based classifier against task, exactly mirroring
// classify_task's scoring and threshold ladder.
func Classify(task string) models.ClassifierResult {
	lower := strings.ToLower(strings.TrimSpace(task))

	scores := make(map[string]int, len(categoryOrder))
	for _, category := range categoryOrder {
		count := 0
		for _, re := range compiledPatterns[category] {
			count += len(re.FindAllString(lower, -1))
		}
		scores[category] = count
	}

	ranked := make([]scoredCategory, 0, len(categoryOrder))
	for _, category := range categoryOrder {
		ranked = append(ranked, scoredCategory{category, scores[category]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	top, second := ranked[0], ranked[1]

	if top.score == 0 {
		return models.ClassifierResult{Category: CategoryChat, Agents: nil, Confidence: 0.3, NeedsModel: true}
	}

	if top.category == CategoryChat {
		return models.ClassifierResult{Category: CategoryChat, Agents: nil, Confidence: 0.8, NeedsModel: false}
	}

	if top.score >= 2 && second.score <= 1 {
		confidence := 0.5 + float64(top.score)*0.1
		if confidence > 0.9 {
			confidence = 0.9
		}
		return models.ClassifierResult{Category: top.category, Agents: []string{top.category}, Confidence: confidence, NeedsModel: false}
	}

	if top.score >= 2 && second.score >= 2 {
		var agents []string
		for _, sc := range ranked {
			if sc.score >= 2 && sc.category != CategoryChat {
				agents = append(agents, sc.category)
			}
		}
		return models.ClassifierResult{Category: CategoryMulti, Agents: agents, Confidence: 0.6, NeedsModel: true}
	}

	return models.ClassifierResult{
		Category:   top.category,
		Agents:     []string{top.category},
		Confidence: 0.4 + float64(top.score)*0.1,
		NeedsModel: top.score < 2,
	}
}

const modelPrompt = `Classify this user task for an AI agent system. Choose which specialist agent(s) should handle it.

Available agents:
- browser — Web browsing, forms, web apps, online accounts, ordering, web research requiring clicking through sites
- coder — Writing code, building projects, debugging, git, deploying, terminal commands, installing packages
- system — macOS control: opening apps, keyboard shortcuts, screenshots, system settings, automation
- research — Deep research: finding information, comparing products, answering questions, fact-checking
- file — File management: organizing files, finding files, backup, compress, clean up directories

Task: %s

Respond in this exact JSON format:
{"category": "<single_best_category>", "agents": ["<agent1>", "<agent2_if_needed>"], "sub_tasks": [{"agent": "<agent>", "task": "<specific_sub_task>"}], "dependencies": {"0": [], "1": [0]}}

Rules:
- "category" is the primary category
- "agents" lists ALL agents needed (can be 1 or more)
- "sub_tasks" breaks the work into specific tasks for each agent
- "dependencies" maps sub_task index to indices it depends on (empty list = independent)
- Keep sub_tasks SPECIFIC and ACTIONABLE
- If it's just a greeting or simple chat, use {"category": "chat", "agents": [], "sub_tasks": [], "dependencies": {}}

JSON:`

// modelResult is the raw shape the model is asked to emit; dependencies is
// keyed by decimal string index in the prompt, so it round-trips through a
// string-keyed map before being converted to models.ClassifierResult's
// int-keyed one.
type modelResult struct {
	Category     string                 `json:"category"`
	Agents       []string               `json:"agents"`
	SubTasks     []models.SubTask       `json:"sub_tasks"`
	Dependencies map[string][]int       `json:"dependencies"`
}

// ClassifyWithModel asks the model to classify and decompose an ambiguous
// or multi-agent task, falling back to the rule-based result on any
// failure — parse error, empty response, or the call itself erroring.
func ClassifyWithModel(ctx context.Context, client *llm.Client, model, task string) models.ClassifierResult {
	resp, err := client.Create(ctx, llm.Request{
		Model:     model,
		MaxTokens: 1024,
		System:    "You are a task classifier. Output valid JSON only. No markdown, no explanation.",
		Messages: []models.Turn{
			{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock(sprintfTask(task))}},
		},
	})
	if err != nil {
		return fallback(task)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Kind == models.BlockText {
			text.WriteString(block.Text)
		}
	}

	parsed, ok := parseClassifierJSON(text.String())
	if !ok {
		return fallback(task)
	}

	deps := make(map[int][]int, len(parsed.Dependencies))
	for k, v := range parsed.Dependencies {
		var idx int
		if _, err := parseIndex(k, &idx); err == nil {
			deps[idx] = v
		}
	}
	if parsed.Category == "" {
		parsed.Category = CategoryChat
	}

	return models.ClassifierResult{
		Category:     parsed.Category,
		Agents:       parsed.Agents,
		SubTasks:     parsed.SubTasks,
		Dependencies: deps,
		Confidence:   1.0,
	}
}

func sprintfTask(task string) string {
	return strings.Replace(modelPrompt, "%s", task, 1)
}

// parseClassifierJSON strips a leading/trailing markdown code fence (with an
// optional "json" language tag) before decoding, matching classify_with_llm's
// handling of fenced model output.
func parseClassifierJSON(text string) (modelResult, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) >= 2 {
			text = parts[1]
		}
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimSpace(text)
	}

	var result modelResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return modelResult{}, false
	}
	return result, true
}

func fallback(task string) models.ClassifierResult {
	basic := Classify(task)
	if len(basic.Agents) > 0 {
		basic.SubTasks = []models.SubTask{{Agent: basic.Category, Task: task}}
	}
	return basic
}

func parseIndex(s string, out *int) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errNotANumber
		}
		n = n*10 + int(c-'0')
	}
	*out = n
	return n, nil
}
