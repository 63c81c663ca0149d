package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedProvider is returned by NewFromProfile for unknown providers.
var ErrUnsupportedProvider = errors.New("unsupported completion provider")

// Role of a message sent to the remote API
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation entry in a Request
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// ToolSpec advertises a tool the model may call
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{} // JSON schema object with "properties" and "required"
}

// Request is a single completion call
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// ChunkKind distinguishes streamed pieces
type ChunkKind string

const (
	ChunkText     ChunkKind = "text"
	ChunkToolCall ChunkKind = "tool_call"
)

// Chunk is one streamed piece of a response
type Chunk struct {
	Kind     ChunkKind
	Text     string
	ToolCall *ToolCall
}

// Stream yields chunks until io.EOF or an error
type Stream interface {
	Next() (Chunk, error)
	Close() error
}

// Client sends completion requests
type Client interface {
	Send(ctx context.Context, req Request) (Stream, error)
	Provider() string
}

// Collect drains a stream into its text and tool calls. The stream is closed.
func Collect(stream Stream) (string, []ToolCall, error) {
	defer stream.Close()

	var text strings.Builder
	var calls []ToolCall
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return text.String(), calls, nil
		}
		if err != nil {
			return text.String(), calls, err
		}
		switch chunk.Kind {
		case ChunkText:
			text.WriteString(chunk.Text)
		case ChunkToolCall:
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		default:
			return text.String(), calls, fmt.Errorf("unknown chunk kind %q", chunk.Kind)
		}
	}
}

// sliceStream replays chunks held in memory
type sliceStream struct {
	chunks []Chunk
	err    error
	pos    int
}

func (s *sliceStream) Next() (Chunk, error) {
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return Chunk{}, s.err
	}
	return Chunk{}, io.EOF
}

func (s *sliceStream) Close() error { return nil }
