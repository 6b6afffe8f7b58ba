package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/tarsline/agentrt/pkg/models"
)

// OpenAIProvider speaks the "function-calling" shape: system becomes an
// initial system-role message, ToolUse blocks become a toolCalls list,
// ToolResult blocks become one role=tool message per result.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewOpenAIProvider builds a function-calling-shape provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(conf), defaultModel: cfg.DefaultModel}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Create(ctx context.Context, req Request) (*models.ModelResponse, error) {
	chatReq := p.toChatRequest(req)
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return p.recoverOrWrap(err)
	}
	if len(resp.Choices) == 0 {
		return &models.ModelResponse{StopReason: models.StopEndTurn}, nil
	}
	return p.toModelResponse(resp.Choices[0].Message), nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (*Stream, error) {
	chatReq := p.toChatRequest(req)
	chatReq.Stream = true

	sdkStream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	deltas := make(chan TextDelta, 16)
	result := make(chan streamResult, 1)

	go p.drainStream(sdkStream, deltas, result)

	return &Stream{
		Deltas: deltas,
		final: func() (*models.ModelResponse, error) {
			for range deltas {
			}
			r := <-result
			if r.err != nil {
				return p.recoverOrWrap(r.err)
			}
			return r.resp, nil
		},
	}, nil
}

// drainStream accumulates text and tool-call argument fragments indexed by
// the provider's `index` field, synthesizing one ModelResponse at EOF.
// Reassembly is by index, not arrival order — deltas for different tool
// calls can interleave on the wire.
func (p *OpenAIProvider) drainStream(sdkStream *openai.ChatCompletionStream, deltas chan<- TextDelta, result chan<- streamResult) {
	defer close(deltas)
	defer sdkStream.Close()

	var textContent string
	toolCalls := map[int]*openai.ToolCall{}
	var order []int

	for {
		chunk, err := sdkStream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result <- streamResult{err: err}
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			textContent += delta.Content
			deltas <- TextDelta{Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			existing, ok := toolCalls[idx]
			if !ok {
				cp := tc
				toolCalls[idx] = &cp
				order = append(order, idx)
				continue
			}
			existing.Function.Arguments += tc.Function.Arguments
			if tc.ID != "" {
				existing.ID = tc.ID
			}
			if tc.Function.Name != "" {
				existing.Function.Name = tc.Function.Name
			}
		}
	}

	var content []models.ContentBlock
	stopReason := models.StopEndTurn
	if textContent != "" {
		content = append(content, models.TextBlock(textContent))
	}
	for _, idx := range order {
		tc := toolCalls[idx]
		stopReason = models.StopToolUse
		content = append(content, models.ToolUseBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}

	result <- streamResult{resp: &models.ModelResponse{Content: content, StopReason: stopReason}}
}

func (p *OpenAIProvider) toChatRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, turn := range req.Messages {
		messages = append(messages, toOpenAIMessages(turn)...)
	}

	return openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
		Messages:  messages,
		Tools:     toOpenAITools(req.Tools),
	}
}

// toOpenAIMessages converts one canonical Turn into one-or-more OpenAI
// messages: an assistant turn with ToolUse blocks becomes one message whose
// content is the concatenated text (or nil) plus a toolCalls list; a user
// turn that is a list of ToolResult blocks becomes one role=tool message
// per result, each with toolCallId set from the block.
func toOpenAIMessages(turn models.Turn) []openai.ChatCompletionMessage {
	var toolResults []models.ContentBlock
	var text string
	var toolUses []models.ContentBlock

	for _, b := range turn.Content {
		switch b.Kind {
		case models.BlockText:
			text += b.Text
		case models.BlockToolUse:
			toolUses = append(toolUses, b)
		case models.BlockToolResult:
			toolResults = append(toolResults, b)
		}
	}

	if len(toolResults) > 0 {
		out := make([]openai.ChatCompletionMessage, 0, len(toolResults))
		for _, tr := range toolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.ToolResultText,
				ToolCallID: tr.ToolResultForID,
			})
		}
		return out
	}

	role := openai.ChatMessageRoleUser
	if turn.Role == models.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}
	msg := openai.ChatCompletionMessage{Role: role, Content: text}
	for _, tu := range toolUses {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:       tu.ToolUseID,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: tu.ToolName, Arguments: string(tu.ToolInput)},
		})
	}
	return []openai.ChatCompletionMessage{msg}
}

// toOpenAITools wraps the canonical ToolSpec in {type:"function",function:{...}}
// and guarantees inputSchema.properties exists (emits {} if absent).
func toOpenAITools(tools []models.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if len(t.InputSchema) > 0 {
			var parsed map[string]any
			if json.Unmarshal(t.InputSchema, &parsed) == nil {
				if _, ok := parsed["properties"]; !ok {
					parsed["properties"] = map[string]any{}
				}
				params = parsed
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) toModelResponse(msg openai.ChatCompletionMessage) *models.ModelResponse {
	var content []models.ContentBlock
	stopReason := models.StopEndTurn
	if msg.Content != "" {
		content = append(content, models.TextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		stopReason = models.StopToolUse
		content = append(content, models.ToolUseBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}
	return &models.ModelResponse{Content: content, StopReason: stopReason}
}

func (p *OpenAIProvider) recoverOrWrap(err error) (*models.ModelResponse, error) {
	kind := Classify(err)
	if kind == KindTransientToolUse {
		if recovered := RecoverToolCall(err.Error()); recovered != nil {
			return recovered, nil
		}
	}
	return nil, &ProviderError{Kind: kind, Body: err.Error(), Err: err}
}
