package toolexec

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) (*Local, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0755))
	return NewLocal(fs, "/work"), fs
}

func TestParseCall(t *testing.T) {
	t.Run("read file", func(t *testing.T) {
		call, err := ParseCall("t1", "read_file", map[string]interface{}{"path": "a.txt", "max_bytes": float64(10)})
		require.NoError(t, err)
		assert.Equal(t, KindReadFile, call.Kind)
		assert.Equal(t, "a.txt", call.Path)
		assert.Equal(t, int64(10), call.MaxBytes)
	})

	t.Run("skill", func(t *testing.T) {
		call, err := ParseCall("t2", "skill", map[string]interface{}{"name": "deploy", "args": map[string]interface{}{"env": "prod"}})
		require.NoError(t, err)
		assert.Equal(t, "deploy", call.Skill)
		assert.Equal(t, "prod", call.Args["env"])
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := ParseCall("t3", "exec", nil)
		assert.ErrorIs(t, err, ErrUnknownTool)
	})

	t.Run("missing required", func(t *testing.T) {
		_, err := ParseCall("t4", "write_file", map[string]interface{}{"path": "a.txt"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "content")
	})

	t.Run("unexpected property", func(t *testing.T) {
		_, err := ParseCall("t5", "list_dir", map[string]interface{}{"recursive": true})
		assert.Error(t, err)
	})
}

func TestSpecs(t *testing.T) {
	specs := Specs()
	require.Len(t, specs, len(Kinds))
	assert.Equal(t, "read_file", specs[0].Name)
	assert.Equal(t, []string{"path"}, specs[0].InputSchema["required"])
}

func TestLocal_WriteReadList(t *testing.T) {
	local, fs := newTestLocal(t)
	ctx := context.Background()

	res := local.Invoke(ctx, Call{ID: "1", Kind: KindWriteFile, Path: "notes/today.md", Content: "hello"})
	require.False(t, res.IsError, res.Output)
	assert.Equal(t, "1", res.CallID)

	data, err := afero.ReadFile(fs, "/work/notes/today.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	res = local.Invoke(ctx, Call{ID: "2", Kind: KindWriteFile, Path: "notes/today.md", Content: " world", Append: true})
	require.False(t, res.IsError, res.Output)

	res = local.Invoke(ctx, Call{ID: "3", Kind: KindReadFile, Path: "notes/today.md"})
	require.False(t, res.IsError, res.Output)
	assert.Equal(t, "hello world", res.Output)

	res = local.Invoke(ctx, Call{ID: "4", Kind: KindReadFile, Path: "notes/today.md", MaxBytes: 5})
	assert.Equal(t, "hello\n... [truncated]", res.Output)

	res = local.Invoke(ctx, Call{ID: "5", Kind: KindListDir})
	require.False(t, res.IsError, res.Output)
	assert.Equal(t, "notes/", res.Output)
}

func TestLocal_RejectsEscapes(t *testing.T) {
	local, _ := newTestLocal(t)
	ctx := context.Background()

	for _, path := range []string{"../etc/passwd", "/etc/passwd", "a/../../b", "http://example.com"} {
		res := local.Invoke(ctx, Call{Kind: KindReadFile, Path: path})
		assert.True(t, res.IsError, path)
	}
}

func TestLocal_SkillUnsupported(t *testing.T) {
	local, _ := newTestLocal(t)

	res := local.Invoke(context.Background(), Call{ID: "s", Kind: KindSkill, Skill: "deploy"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "unsupported")
}

func TestLocal_MissingFile(t *testing.T) {
	local, _ := newTestLocal(t)

	res := local.Invoke(context.Background(), Call{Kind: KindReadFile, Path: "missing.txt"})
	assert.True(t, res.IsError)
}
