package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReportsSavesAndRemovals(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(afero.NewOsFs(), dir)
	require.NoError(t, err)

	var mu sync.Mutex
	var changes []Change
	w, err := NewWatcher(WatcherConfig{
		Dir:                dir,
		StabilityThreshold: 20 * time.Millisecond,
		OnChange: func(c Change) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, store.Save(context.Background(), testSnapshot("abc", "work", time.Now())))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 1 && changes[0] == Change{ID: "abc", Op: ChangeSaved}
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "abc.json")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2 && changes[1] == Change{ID: "abc", Op: ChangeRemoved}
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestNewWatcher_RequiresCallback(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{Dir: t.TempDir()})
	assert.Error(t, err)
}
