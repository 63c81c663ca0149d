package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultMaxTokens      = 4096
)

// Anthropic streams completions from the Anthropic Messages API
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic client; model may be empty for the default.
func NewAnthropic(apiKey, model string, opts ...option.RequestOption) *Anthropic {
	if model == "" {
		model = defaultAnthropicModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (a *Anthropic) Provider() string {
	return "anthropic"
}

// Send starts a streaming Messages call
func (a *Anthropic) Send(ctx context.Context, req Request) (Stream, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}
	return &anthropicStream{stream: a.client.Messages.NewStreaming(ctx, params)}, nil
}

func (a *Anthropic) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages := []anthropic.MessageParam{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	model := req.Model
	if model == "" {
		model = a.model
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
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, spec := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.InputSchema["properties"],
				},
			}
			if required, ok := spec.InputSchema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params, nil
}

// anthropicStream forwards text deltas as they arrive and emits tool calls
// once the accumulated message is complete.
type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	message anthropic.Message
	pending []Chunk
	done    bool
}

func (s *anthropicStream) Next() (Chunk, error) {
	for {
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			return c, nil
		}
		if s.done {
			return Chunk{}, io.EOF
		}

		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return Chunk{}, fmt.Errorf("anthropic stream: %w", err)
			}
			s.done = true
			calls, err := s.toolCalls()
			if err != nil {
				return Chunk{}, err
			}
			s.pending = calls
			continue
		}

		event := s.stream.Current()
		if err := s.message.Accumulate(event); err != nil {
			return Chunk{}, fmt.Errorf("anthropic stream: %w", err)
		}

		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return Chunk{Kind: ChunkText, Text: delta.Text}, nil
			}
		}
	}
}

func (s *anthropicStream) toolCalls() ([]Chunk, error) {
	var chunks []Chunk
	for _, block := range s.message.Content {
		b, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		input := map[string]interface{}{}
		if raw := b.JSON.Input.Raw(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				return nil, fmt.Errorf("failed to parse tool input: %w", err)
			}
		}
		chunks = append(chunks, Chunk{
			Kind:     ChunkToolCall,
			ToolCall: &ToolCall{ID: b.ID, Name: b.Name, Input: input},
		})
	}
	return chunks, nil
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
