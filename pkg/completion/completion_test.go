package completion

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScripted_RepliesInOrderThenEchoes(t *testing.T) {
	client := NewScripted(Text("one"), Text("two"))
	ctx := context.Background()

	for _, want := range []string{"one", "two"} {
		stream, err := client.Send(ctx, Request{})
		require.NoError(t, err)
		text, calls, err := Collect(stream)
		require.NoError(t, err)
		assert.Equal(t, want, text)
		assert.Empty(t, calls)
	}

	stream, err := client.Send(ctx, Request{Messages: []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "work"},
	}})
	require.NoError(t, err)
	text, _, err := Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "echo: work", text)
	assert.Len(t, client.Requests(), 3)
}

func TestScripted_ErrorsAndToolCalls(t *testing.T) {
	boom := errors.New("boom")
	client := NewScripted(
		Reply{SendErr: boom},
		Reply{Chunks: []Chunk{{Kind: ChunkText, Text: "partial"}}, Err: boom},
		Reply{Chunks: []Chunk{{Kind: ChunkToolCall, ToolCall: &ToolCall{ID: "t1", Name: "read_file"}}}},
	)
	ctx := context.Background()

	_, err := client.Send(ctx, Request{})
	assert.ErrorIs(t, err, boom)

	stream, err := client.Send(ctx, Request{})
	require.NoError(t, err)
	text, _, err := Collect(stream)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", text)

	stream, err = client.Send(ctx, Request{})
	require.NoError(t, err)
	_, calls, err := Collect(stream)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
}

func TestScripted_TracksConcurrency(t *testing.T) {
	client := NewScripted().WithDelay(30 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, err := client.Send(context.Background(), Request{})
			if err == nil {
				_, _, _ = Collect(stream)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, client.HighWater())
	assert.Zero(t, client.InFlight())
}

func TestScripted_DelayHonoursContext(t *testing.T) {
	client := NewScripted(Reply{Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Send(ctx, Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewFromProfile(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{provider: "anthropic", want: "anthropic"},
		{provider: "openai", want: "openai"},
		{provider: "scripted", want: "scripted"},
		{provider: "gemini", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			client, err := NewFromProfile(Profile{Provider: tt.provider, APIKey: "sk-test"})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, client.Provider())
		})
	}
}

func TestOpenAI_StreamsTextFromServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		}
		for _, e := range events {
			_, _ = io.WriteString(w, "data: "+e+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewFromProfile(Profile{Provider: "openai", APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)

	stream, err := client.Send(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	text, calls, err := Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Empty(t, calls)
}

func TestAnthropic_StreamsTextFromServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []struct{ name, data string }{
			{"message_start", `{"type":"message_start","message":{"id":"m1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"usage":{"input_tokens":1,"output_tokens":0}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi "}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"there"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`},
			{"message_stop", `{"type":"message_stop"}`},
		}
		var b strings.Builder
		for _, e := range events {
			b.WriteString("event: " + e.name + "\ndata: " + e.data + "\n\n")
		}
		_, _ = io.WriteString(w, b.String())
	}))
	defer server.Close()

	client, err := NewFromProfile(Profile{Provider: "anthropic", APIKey: "sk-ant-test", BaseURL: server.URL})
	require.NoError(t, err)

	stream, err := client.Send(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	text, _, err := Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
}
