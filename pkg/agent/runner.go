package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/harun/weave/internal/observability"
	"github.com/harun/weave/internal/tracing"
	"github.com/harun/weave/pkg/completion"
	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/toolexec"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultSystemPrompt = "You are a helpful assistant."
	defaultMaxToolLoops = 8
	defaultMaxHistory   = 40
)

// ErrToolLoopExceeded is returned when the model keeps requesting tools
var ErrToolLoopExceeded = errors.New("maximum tool execution turns exceeded")

// Config holds runner configuration
type Config struct {
	Client       completion.Client
	Tools        toolexec.Executor // nil disables tool use
	Model        string
	SystemPrompt string
	MaxTokens    int
	MaxToolLoops int
	MaxHistory   int
	Logger       *zerolog.Logger
}

// Runner executes conversational turns
type Runner struct {
	client       completion.Client
	tools        toolexec.Executor
	toolSpecs    []completion.ToolSpec
	model        string
	systemPrompt string
	maxTokens    int
	maxToolLoops int
	maxHistory   int
	logger       zerolog.Logger
}

// NewRunner creates a new runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	}

	r := &Runner{
		client:       cfg.Client,
		tools:        cfg.Tools,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		maxToolLoops: cfg.MaxToolLoops,
		maxHistory:   cfg.MaxHistory,
	}
	if r.systemPrompt == "" {
		r.systemPrompt = defaultSystemPrompt
	}
	if r.maxToolLoops <= 0 {
		r.maxToolLoops = defaultMaxToolLoops
	}
	if r.maxHistory <= 0 {
		r.maxHistory = defaultMaxHistory
	}

	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	r.logger = base.With().Str("component", "agent").Str("provider", cfg.Client.Provider()).Logger()

	if r.tools != nil {
		for _, spec := range toolexec.Specs() {
			r.toolSpecs = append(r.toolSpecs, completion.ToolSpec{
				Name:        spec.Name,
				Description: spec.Description,
				InputSchema: spec.InputSchema,
			})
		}
	}
	return r, nil
}

// Run executes one turn: prompt plus any tool round trips. history is the
// session's conversation before the prompt. emit may be nil.
//
// On failure the returned Result still holds the user turn, whatever text
// arrived and an error entry, so the caller can commit it.
func (r *Runner) Run(ctx context.Context, history []session.Turn, prompt string, emit EmitFunc) (Result, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "weave.agent", "agent.run",
		attribute.String("provider", r.client.Provider()),
		attribute.Int("history", len(history)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if emit == nil {
		emit = func(session.EntryKind, string) {}
	}

	res := Result{
		Turns: []session.Turn{{Role: session.RoleUser, Content: prompt, Timestamp: start}},
	}

	response, err := r.loop(ctx, r.buildMessages(history, prompt), emit, &res)
	res.Duration = time.Since(start)
	if response != "" {
		res.Response = response
		res.Output = append(res.Output, Output{Kind: session.EntryText, Text: response})
		res.Turns = append(res.Turns, session.Turn{
			Role:      session.RoleAssistant,
			Content:   response,
			Timestamp: time.Now(),
			Metadata:  map[string]interface{}{"model": r.model, "provider": r.client.Provider()},
		})
	}

	if err != nil {
		res.Failed = true
		marker := ErrorMarker(err)
		res.Output = append(res.Output, Output{Kind: session.EntryError, Text: marker})
		emit(session.EntryError, marker)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Dur("duration", res.Duration).Msg("Turn failed")
		return res, err
	}

	logger.Debug().
		Int("tool_calls", res.ToolCalls).
		Dur("duration", res.Duration).
		Msg("Turn completed")
	return res, nil
}

func (r *Runner) loop(ctx context.Context, messages []completion.Message, emit EmitFunc, res *Result) (string, error) {
	var text strings.Builder

	for turn := 0; turn < r.maxToolLoops; turn++ {
		if err := ctx.Err(); err != nil {
			return text.String(), err
		}

		content, calls, err := r.call(ctx, messages, emit)
		text.WriteString(content)
		if err != nil {
			return text.String(), err
		}
		if len(calls) == 0 {
			return text.String(), nil
		}
		if r.tools == nil {
			return text.String(), fmt.Errorf("model requested %d tool calls but tools are disabled", len(calls))
		}

		messages = append(messages, completion.Message{
			Role:      completion.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		for _, tc := range calls {
			result := r.invoke(ctx, tc)
			res.ToolCalls++

			line := fmt.Sprintf("%s: %s", tc.Name, summarize(result.Output, 120))
			res.Output = append(res.Output, Output{Kind: session.EntryTool, Text: line})
			emit(session.EntryTool, line)

			res.Turns = append(res.Turns, session.Turn{
				Role:      session.RoleTool,
				Content:   result.Output,
				Timestamp: time.Now(),
				Metadata: map[string]interface{}{
					"tool":         tc.Name,
					"tool_call_id": tc.ID,
					"is_error":     result.IsError,
				},
			})
			messages = append(messages, completion.Message{
				Role:       completion.RoleTool,
				Content:    result.Output,
				ToolCallID: tc.ID,
			})
		}
	}

	return text.String(), ErrToolLoopExceeded
}

// call sends one request and drains its stream, forwarding text as it arrives
func (r *Runner) call(ctx context.Context, messages []completion.Message, emit EmitFunc) (string, []completion.ToolCall, error) {
	start := time.Now()
	var text strings.Builder
	var calls []completion.ToolCall

	err := func() error {
		stream, err := r.client.Send(ctx, completion.Request{
			Model:     r.model,
			System:    r.systemPrompt,
			Messages:  messages,
			Tools:     r.toolSpecs,
			MaxTokens: r.maxTokens,
		})
		if err != nil {
			return fmt.Errorf("completion request failed: %w", err)
		}
		defer stream.Close()

		for {
			chunk, err := stream.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("completion stream failed: %w", err)
			}
			switch chunk.Kind {
			case completion.ChunkText:
				text.WriteString(chunk.Text)
				emit(session.EntryText, chunk.Text)
			case completion.ChunkToolCall:
				if chunk.ToolCall != nil {
					calls = append(calls, *chunk.ToolCall)
				}
			}
		}
	}()

	observability.RecordRemoteCall(time.Since(start), err == nil)
	return text.String(), calls, err
}

func (r *Runner) invoke(ctx context.Context, tc completion.ToolCall) toolexec.Result {
	call, err := toolexec.ParseCall(tc.ID, tc.Name, tc.Input)
	if err != nil {
		observability.RecordToolInvocation(tc.Name, false)
		return toolexec.Result{CallID: tc.ID, Output: err.Error(), IsError: true}
	}
	return r.tools.Invoke(ctx, call)
}

// buildMessages converts stored turns into request messages. Tool and system
// turns are transient to the turn that produced them and are not replayed.
func (r *Runner) buildMessages(history []session.Turn, prompt string) []completion.Message {
	messages := make([]completion.Message, 0, len(history)+1)
	for _, turn := range history {
		if turn.Content == "" {
			continue
		}
		switch turn.Role {
		case session.RoleUser:
			messages = append(messages, completion.Message{Role: completion.RoleUser, Content: turn.Content})
		case session.RoleAssistant:
			messages = append(messages, completion.Message{Role: completion.RoleAssistant, Content: turn.Content})
		}
	}

	if dropped := len(messages) - r.maxHistory; dropped > 0 {
		r.logger.Debug().Int("dropped", dropped).Int("kept", r.maxHistory).Msg("Compacting context")
		messages = messages[dropped:]
		// Providers expect the conversation to open with a user message.
		for len(messages) > 0 && messages[0].Role != completion.RoleUser {
			messages = messages[1:]
		}
	}

	return append(messages, completion.Message{Role: completion.RoleUser, Content: prompt})
}

// ToolNames lists the tools advertised to the model
func (r *Runner) ToolNames() []string {
	names := make([]string, 0, len(r.toolSpecs))
	for _, spec := range r.toolSpecs {
		names = append(names, spec.Name)
	}
	sort.Strings(names)
	return names
}
