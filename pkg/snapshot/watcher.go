package snapshot

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ChangeOp describes what happened to a snapshot file
type ChangeOp string

const (
	ChangeSaved   ChangeOp = "saved"
	ChangeRemoved ChangeOp = "removed"
)

// Change is a debounced notification about one session's snapshot
type Change struct {
	ID string
	Op ChangeOp
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Dir                string
	StabilityThreshold time.Duration
	OnChange           func(Change)
}

// Watcher reports snapshot files being saved or removed in a directory.
// Temp files are ignored, so a save shows up once, when its rename lands.
type Watcher struct {
	watcher            *fsnotify.Watcher
	dir                string
	stabilityThreshold time.Duration
	onChange           func(Change)
	done               chan struct{}
	debounceTimers     map[string]*time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

// NewWatcher creates a watcher; call Start to begin receiving changes.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("snapshot watcher requires an OnChange callback")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = 100 * time.Millisecond
	}

	return &Watcher{
		watcher:            watcher,
		dir:                cfg.Dir,
		stabilityThreshold: cfg.StabilityThreshold,
		onChange:           cfg.OnChange,
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Start begins watching the snapshot directory
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch snapshot directory: %w", err)
	}

	go w.eventLoop()

	log.Debug().Str("path", w.dir).Msg("Snapshot watcher started")
	return nil
}

// Stop stops the watcher; it is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.debounceMu.Lock()
		for _, timer := range w.debounceTimers {
			timer.Stop()
		}
		clear(w.debounceTimers)
		w.debounceMu.Unlock()

		if cerr := w.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Snapshot watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if filepath.Ext(name) != snapshotExt {
		return
	}
	id := strings.TrimSuffix(name, snapshotExt)

	op := ChangeSaved
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		op = ChangeRemoved
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[id]; exists {
		timer.Stop()
	}

	w.debounceTimers[id] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, id)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
			w.onChange(Change{ID: id, Op: op})
		}
	})
}
