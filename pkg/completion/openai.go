package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAI streams completions from the Chat Completions API
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI client; model may be empty for the default.
func NewOpenAI(apiKey, model string, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *OpenAI) Provider() string {
	return "openai"
}

// Send starts a streaming chat completion
func (o *OpenAI) Send(ctx context.Context, req Request) (Stream, error) {
	params, err := o.buildParams(req)
	if err != nil {
		return nil, err
	}
	return &openAIStream{stream: o.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

func (o *OpenAI) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Input)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool parameters: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, spec := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

// openAIStream forwards content deltas and emits tool calls from the
// accumulated completion once the stream ends.
type openAIStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	acc     openai.ChatCompletionAccumulator
	pending []Chunk
	done    bool
}

func (s *openAIStream) Next() (Chunk, error) {
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
				return Chunk{}, fmt.Errorf("openai stream: %w", err)
			}
			s.done = true
			calls, err := s.toolCalls()
			if err != nil {
				return Chunk{}, err
			}
			s.pending = calls
			continue
		}

		chunk := s.stream.Current()
		s.acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return Chunk{Kind: ChunkText, Text: chunk.Choices[0].Delta.Content}, nil
		}
	}
}

func (s *openAIStream) toolCalls() ([]Chunk, error) {
	if len(s.acc.Choices) == 0 {
		return nil, nil
	}
	var chunks []Chunk
	for _, tc := range s.acc.Choices[0].Message.ToolCalls {
		input := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
		chunks = append(chunks, Chunk{
			Kind:     ChunkToolCall,
			ToolCall: &ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input},
		})
	}
	return chunks, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
