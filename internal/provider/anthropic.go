package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 4096

	// streamBufferSize is the chunk channel capacity; large enough that the
	// SDK reader rarely blocks on a slow consumer.
	streamBufferSize = 64
)

// Anthropic implements Provider against Anthropic's Messages API with SSE
// streaming. Text and thinking deltas are forwarded as they arrive; tool-use
// blocks are assembled from input JSON fragments and emitted when the block
// closes.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey authenticates against the API (required).
	APIKey string
	// BaseURL overrides the API endpoint, for proxies.
	BaseURL string
	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(config AnthropicConfig) (*Anthropic, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Anthropic{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns "anthropic".
func (p *Anthropic) Name() string {
	return "anthropic"
}

// Stream sends the request and streams chunks until the completion ends or
// ctx is canceled.
func (p *Anthropic) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("anthropic: empty request")
	}

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan Chunk, streamBufferSize)
	go func() {
		defer close(chunks)
		p.processStream(ctx, stream, chunks)
	}()
	return chunks, nil
}

func (p *Anthropic) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, err := convertTurns(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *Anthropic) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk) {
	var currentToolCall *ToolCall
	var currentToolInput strings.Builder

	send := func(c Chunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !send(Chunk{Text: delta.Text}) {
					return
				}
			case "thinking_delta":
				if delta.Thinking != "" && !send(Chunk{Thinking: delta.Thinking}) {
					return
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Args = json.RawMessage(currentToolInput.String())
				if !send(Chunk{ToolCall: currentToolCall}) {
					return
				}
				currentToolCall = nil
			}

		case "message_stop":
			send(Chunk{Done: true})
			return

		case "error":
			send(Chunk{Err: errors.New("anthropic: stream error")})
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(Chunk{Err: fmt.Errorf("anthropic: %w", err)})
	}
}

// convertTurns maps the linear history to Anthropic message params. Tool
// turns become user messages carrying tool_result blocks, matching the
// Messages API contract.
func convertTurns(turns []Turn) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, turn := range turns {
		var content []anthropic.ContentBlockParamUnion

		if turn.Content != "" {
			content = append(content, anthropic.NewTextBlock(turn.Content))
		}
		for _, res := range turn.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(res.CallID, res.Result, strings.HasPrefix(res.Result, "Error:")))
		}
		for _, call := range turn.ToolCalls {
			var input any
			if len(call.Args) > 0 {
				if err := json.Unmarshal(call.Args, &input); err != nil {
					return nil, fmt.Errorf("anthropic: tool call %s has invalid args: %w", call.ID, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}

		if turn.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: no sendable messages in history")
	}
	return out, nil
}

func convertTools(specs []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", spec.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool definition for %s", spec.Name)
		}
		param.OfTool.Description = anthropic.String(spec.Description)
		out = append(out, param)
	}
	return out, nil
}
