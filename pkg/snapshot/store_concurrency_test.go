package snapshot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/weave/pkg/session"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ConcurrentSavesOfOneID(t *testing.T) {
	store, err := NewStore(afero.NewOsFs(), t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	created := time.Now()

	// writers of very different sizes make an interleaved temp file visible
	names := []string{"a", strings.Repeat("b", 64), "cc", strings.Repeat("d", 40)}

	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		errs := make(chan error, len(names))
		for _, name := range names {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				snap := testSnapshot("abc", name, created)
				snap.FirstMessage = strings.Repeat(name, 50)
				errs <- store.Save(ctx, snap)
			}(name)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err, "round %d", round)
		}

		snap, err := store.Load("abc")
		require.NoError(t, err, "round %d", round)
		assert.Contains(t, names, snap.Name)
		assert.Equal(t, strings.Repeat(snap.Name, 50), snap.FirstMessage)
	}

	removed, err := store.CleanupTemp()
	require.NoError(t, err)
	assert.Zero(t, removed, "no temp file survives a completed save")
}

func TestStore_CompletedSnapshotIsTerminal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	created := time.Now()

	closed := testSnapshot("abc", "work", created)
	closed.Status = session.StatusCompleted
	require.NoError(t, store.Save(ctx, closed))

	stale := testSnapshot("abc", "work", created)
	err := store.Save(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompleted))

	snap, err := store.Load("abc")
	require.NoError(t, err)
	assert.True(t, snap.Completed())

	// rewriting the final state is still allowed
	closed.Name = "work-final"
	require.NoError(t, store.Save(ctx, closed))
	snap, err = store.Load("abc")
	require.NoError(t, err)
	assert.Equal(t, "work-final", snap.Name)
}
