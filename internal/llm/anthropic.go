package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tarsline/agentrt/pkg/models"
)

// AnthropicProvider speaks the "native" content-block shape directly: tool
// specs and conversation turns map onto the SDK's types with no conversion.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider builds a native-shape provider. DefaultModel is used
// when a Request leaves Model empty.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Create(ctx context.Context, req Request) (*models.ModelResponse, error) {
	params := p.toParams(req)
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return p.recoverOrWrap(err)
	}
	return p.toModelResponse(msg), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (*Stream, error) {
	params := p.toParams(req)
	sdkStream := p.client.Messages.NewStreaming(ctx, params)

	deltas := make(chan TextDelta, 16)
	result := make(chan streamResult, 1)

	go p.drainStream(sdkStream, deltas, result)

	return &Stream{
		Deltas: deltas,
		final: func() (*models.ModelResponse, error) {
			for range deltas {
				// drain any remaining deltas so drainStream can finish sending to result
			}
			r := <-result
			if r.err != nil {
				return p.recoverOrWrap(r.err)
			}
			return r.resp, nil
		},
	}, nil
}

type streamResult struct {
	resp *models.ModelResponse
	err  error
}

// drainStream walks the SDK's event union: message_start for input
// tokens, content_block_start for tool-use/text block boundaries,
// content_block_delta for incremental text and tool-input JSON
// fragments, message_delta for output tokens.
func (p *AnthropicProvider) drainStream(sdkStream *ssestream.Stream[anthropic.MessageStreamEventUnion], deltas chan<- TextDelta, result chan<- streamResult) {
	defer close(deltas)

	var content []models.ContentBlock
	var currentToolID, currentToolName string
	var currentToolInput strings.Builder
	inToolUse := false
	stopReason := models.StopEndTurn
	var usage models.Usage

	for sdkStream.Next() {
		event := sdkStream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				currentToolID, currentToolName = tu.ID, tu.Name
				currentToolInput.Reset()
				inToolUse = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					deltas <- TextDelta{Text: delta.Text}
					content = appendText(content, delta.Text)
				}
			case "input_json_delta":
				currentToolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if inToolUse {
				stopReason = models.StopToolUse
				content = append(content, models.ToolUseBlock(currentToolID, currentToolName, json.RawMessage(currentToolInput.String())))
				inToolUse = false
			}

		case "message_delta":
			if out := event.AsMessageDelta().Usage.OutputTokens; out > 0 {
				usage.OutTokens = int(out)
			}

		case "message_start":
			if in := event.AsMessageStart().Message.Usage.InputTokens; in > 0 {
				usage.InTokens = int(in)
			}
		}
	}

	if err := sdkStream.Err(); err != nil {
		result <- streamResult{err: err}
		return
	}
	result <- streamResult{resp: &models.ModelResponse{Content: content, StopReason: stopReason, Usage: usage}}
}

// appendText merges consecutive text deltas into a single trailing Text block.
func appendText(content []models.ContentBlock, text string) []models.ContentBlock {
	if n := len(content); n > 0 && content[n-1].Kind == models.BlockText {
		content[n-1].Text += text
		return content
	}
	return append(content, models.TextBlock(text))
}

func (p *AnthropicProvider) toParams(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		schema := toolInputSchema(t.InputSchema)
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, turn := range req.Messages {
		messages = append(messages, toAnthropicMessage(turn))
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Tools:     tools,
		Messages:  messages,
	}
}

func toolInputSchema(raw json.RawMessage) anthropic.ToolInputSchemaParam {
	var parsed struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &parsed)
	}
	if parsed.Properties == nil {
		parsed.Properties = map[string]any{}
	}
	return anthropic.ToolInputSchemaParam{
		Properties: parsed.Properties,
	}
}

func toAnthropicMessage(turn models.Turn) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.Content))
	for _, b := range turn.Content {
		switch b.Kind {
		case models.BlockText:
			blocks = append(blocks, anthropic.NewTextBlock(b.Text))
		case models.BlockToolUse:
			var input any
			_ = json.Unmarshal(b.ToolInput, &input)
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
		case models.BlockToolResult:
			blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolResultForID, b.ToolResultText, false))
		}
	}
	role := anthropic.MessageParamRoleUser
	if turn.Role == models.RoleAssistant {
		role = anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParam{Role: role, Content: blocks}
}

func (p *AnthropicProvider) toModelResponse(msg *anthropic.Message) *models.ModelResponse {
	var content []models.ContentBlock
	stopReason := models.StopEndTurn
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, models.TextBlock(v.Text))
		case anthropic.ToolUseBlock:
			stopReason = models.StopToolUse
			input, _ := json.Marshal(v.Input)
			content = append(content, models.ToolUseBlock(v.ID, v.Name, input))
		}
	}
	return &models.ModelResponse{
		Content:    content,
		StopReason: stopReason,
		Usage: models.Usage{
			InTokens:  int(msg.Usage.InputTokens),
			OutTokens: int(msg.Usage.OutputTokens),
		},
	}
}

// recoverOrWrap attempts tool-call recovery on a tool_use_failed error body
// before classifying it for the retry layer.
func (p *AnthropicProvider) recoverOrWrap(err error) (*models.ModelResponse, error) {
	kind := Classify(err)
	if kind == KindTransientToolUse {
		if recovered := RecoverToolCall(err.Error()); recovered != nil {
			return recovered, nil
		}
	}
	return nil, &ProviderError{Kind: kind, Body: err.Error(), Err: fmt.Errorf("anthropic: %w", err)}
}
