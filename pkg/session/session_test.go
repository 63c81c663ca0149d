package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	sess, err := New(Params{ID: "s1", Name: "work", CreatedAt: time.Now()})
	require.NoError(t, err)
	return sess
}

func TestNew_RequiredFields(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		params Params
	}{
		{"missing id", Params{Name: "a", CreatedAt: now}},
		{"missing name", Params{ID: "1", CreatedAt: now}},
		{"missing created", Params{ID: "1", Name: "a"}},
		{"worktree without handle", Params{ID: "1", Name: "a", CreatedAt: now, Kind: KindWorktree}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.params)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	created := time.Now().Add(-time.Minute)
	sess, err := New(Params{ID: "1", Name: "a", CreatedAt: created})
	require.NoError(t, err)

	assert.Equal(t, KindStandard, sess.Kind())
	assert.Equal(t, StatusWaitingForInput, sess.Status())
	assert.Equal(t, created, sess.LastActive())
	assert.Nil(t, sess.Worktree())
	assert.Equal(t, 0, sess.Output().Len())
}

func TestNew_RejectsUnknownStatus(t *testing.T) {
	_, err := New(Params{ID: "1", Name: "a", CreatedAt: time.Now(), Status: "sleeping"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestSession_StatusTransitions(t *testing.T) {
	sess := newTestSession(t)

	for _, st := range []Status{StatusActive, StatusProcessing, StatusPaused, StatusWaitingForInput, StatusActive} {
		require.NoError(t, sess.SetStatus(st))
		assert.Equal(t, st, sess.Status())
	}

	assert.True(t, sess.Complete())
	assert.False(t, sess.Complete(), "second complete is a no-op")
	assert.True(t, sess.Completed())

	err := sess.SetStatus(StatusActive)
	assert.ErrorIs(t, err, ErrTerminal)
	assert.NoError(t, sess.SetStatus(StatusCompleted))
}

func TestSession_Conversation(t *testing.T) {
	sess := newTestSession(t)

	sess.AppendTurn(Turn{Role: RoleAssistant, Content: "greeting"})
	sess.AppendTurn(Turn{Role: RoleUser, Content: "first question"})
	sess.AppendTurn(Turn{Role: RoleUser, Content: "second question"})

	turns := sess.Conversation()
	require.Len(t, turns, 3)
	assert.False(t, turns[0].Timestamp.IsZero())
	assert.Equal(t, "first question", sess.FirstMessage())

	turns[0].Content = "mutated"
	assert.Equal(t, "greeting", sess.Conversation()[0].Content, "copy must not alias")
}

func TestSession_AppendUnlessCompleted(t *testing.T) {
	sess := newTestSession(t)

	ok := sess.AppendUnlessCompleted([]Turn{{Role: RoleUser, Content: "hi"}}, func(out *OutputBuffer) {
		out.Append(EntryText, "hello")
	})
	require.True(t, ok)
	assert.Len(t, sess.Conversation(), 1)
	assert.Equal(t, 1, sess.Output().Len())

	require.True(t, sess.Complete())
	called := false
	ok = sess.AppendUnlessCompleted([]Turn{{Role: RoleUser, Content: "late"}}, func(*OutputBuffer) {
		called = true
	})
	assert.False(t, ok)
	assert.False(t, called)
	assert.Len(t, sess.Conversation(), 1)
	assert.Equal(t, 1, sess.Output().Len())
}

func TestSession_AppendRacingComplete(t *testing.T) {
	for i := 0; i < 100; i++ {
		sess := newTestSession(t)

		var wg sync.WaitGroup
		var appended bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			appended = sess.AppendUnlessCompleted([]Turn{{Role: RoleUser, Content: "hi"}}, func(out *OutputBuffer) {
				out.Append(EntryText, "hello")
			})
		}()
		go func() {
			defer wg.Done()
			sess.Complete()
		}()
		wg.Wait()

		// either the whole result landed before close or none of it did
		if appended {
			assert.Len(t, sess.Conversation(), 1)
			assert.Equal(t, 1, sess.Output().Len())
		} else {
			assert.Empty(t, sess.Conversation())
			assert.Equal(t, 0, sess.Output().Len())
		}
		assert.True(t, sess.Completed())
	}
}

func TestSession_TouchIsMonotonic(t *testing.T) {
	sess := newTestSession(t)
	later := time.Now().Add(time.Hour)

	sess.Touch(later)
	sess.Touch(later.Add(-2 * time.Hour))
	assert.Equal(t, later, sess.LastActive())
}

func TestSession_EstimateBytes(t *testing.T) {
	sess := newTestSession(t)
	sess.AppendTurn(Turn{Role: RoleUser, Content: "hello"})
	sess.Output().Append(EntryText, "world!")

	assert.Equal(t, len("hello")+len(RoleUser)+len("world!"), sess.EstimateBytes())
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"valid", "my session_1-b", ""},
		{"empty", "", "cannot be empty"},
		{"too long", strings.Repeat("a", 65), "Session name too long (max 64 characters)"},
		{"max length", strings.Repeat("a", 64), ""},
		{"bad charset", "work/1", "may only contain"},
		{"unicode", "wörk", "may only contain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidName)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
