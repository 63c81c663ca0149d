package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputBuffer_Bounded(t *testing.T) {
	buf := NewOutputBuffer(3)

	for i := 1; i <= 5; i++ {
		buf.Append(EntryText, fmt.Sprintf("line %d", i))
	}

	entries := buf.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "line 3", entries[0].Text)
	assert.Equal(t, uint64(5), entries[2].Seq)
	assert.Equal(t, 2, buf.Dropped())
}

func TestOutputBuffer_SeenTracking(t *testing.T) {
	buf := NewOutputBuffer(10)
	buf.Append(EntryText, "a")
	buf.Append(EntryError, "boom")

	assert.Equal(t, 2, buf.Unseen())

	unseen := buf.MarkSeen()
	require.Len(t, unseen, 2)
	assert.Equal(t, EntryError, unseen[1].Kind)
	assert.Equal(t, 0, buf.Unseen())
	assert.Empty(t, buf.MarkSeen())

	buf.Append(EntryNotice, "c")
	assert.Equal(t, 1, buf.Unseen())
	assert.Len(t, buf.Since(2), 1)
}

func TestOutputBuffer_DefaultLimit(t *testing.T) {
	buf := NewOutputBuffer(0)
	assert.Equal(t, DefaultOutputLimit, buf.limit)
}
