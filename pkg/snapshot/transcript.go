package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/weave/internal/tracing"
	"github.com/harun/weave/pkg/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const transcriptExt = ".jsonl"

// TranscriptEntry is one line of a transcript file
type TranscriptEntry struct {
	SessionID string       `json:"session_id"`
	Turn      session.Turn `json:"turn"`
}

// Transcript appends conversation turns to per-session JSONL files.
type Transcript struct {
	fs     afero.Fs
	dir    string
	logger zerolog.Logger

	locksMu    sync.Mutex
	writeLocks map[string]*sync.Mutex
}

// NewTranscript returns a transcript writer rooted at dir (normally the store directory).
func NewTranscript(fs afero.Fs, dir string) (*Transcript, error) {
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &Transcript{
		fs:         fs,
		dir:        dir,
		logger:     log.Logger.With().Str("component", "transcript").Logger(),
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (t *Transcript) path(id string) string {
	return filepath.Join(t.dir, id+transcriptExt)
}

func (t *Transcript) writeLock(id string) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()

	if lock, ok := t.writeLocks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	t.writeLocks[id] = lock
	return lock
}

// Append writes turns to the end of the session's transcript and syncs.
func (t *Transcript) Append(ctx context.Context, id string, turns ...session.Turn) error {
	if err := validateID(id); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "transcript.append",
		attribute.String("session_id", id),
		attribute.Int("turns", len(turns)),
	)
	defer span.End()

	lock := t.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	file, err := t.fs.OpenFile(t.path(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, snapshotPerm)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, turn := range turns {
		if turn.Timestamp.IsZero() {
			turn.Timestamp = time.Now()
		}
		data, err := json.Marshal(TranscriptEntry{SessionID: id, Turn: turn})
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write turn: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write transcript: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync transcript: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, t.logger)
	logger.Debug().
		Int("turns", len(turns)).
		Msg("Transcript appended")
	return nil
}

// Load returns the turns recorded for id. Lines that fail to parse or carry
// no role are skipped with a warning. A missing file yields no turns.
func (t *Transcript) Load(ctx context.Context, id string) ([]session.Turn, error) {
	turns, _, err := t.load(ctx, id)
	return turns, err
}

func (t *Transcript) load(ctx context.Context, id string) ([]session.Turn, int, error) {
	if err := validateID(id); err != nil {
		return nil, 0, err
	}
	logger := tracing.LoggerFromContext(ctx, t.logger).With().Str("session_id", id).Logger()

	file, err := t.fs.Open(t.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return []session.Turn{}, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	var turns []session.Turn
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry TranscriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			skipped++
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse transcript line, skipping")
			continue
		}
		if entry.Turn.Role == "" {
			skipped++
			logger.Warn().Int("line", lineNum).Msg("Invalid transcript entry, skipping")
			continue
		}
		turns = append(turns, entry.Turn)
	}

	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read transcript: %w", err)
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	return turns, skipped, nil
}

// Repair rewrites the transcript without its corrupt lines and returns how
// many lines were dropped. Nothing is written when the file is clean.
func (t *Transcript) Repair(ctx context.Context, id string) (int, error) {
	turns, skipped, err := t.load(ctx, id)
	if err != nil || skipped == 0 {
		return 0, err
	}

	lock := t.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	var buf []byte
	for _, turn := range turns {
		data, err := json.Marshal(TranscriptEntry{SessionID: id, Turn: turn})
		if err != nil {
			return 0, fmt.Errorf("failed to marshal turn: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	if err := writeAtomic(t.fs, t.path(id), buf); err != nil {
		return 0, err
	}

	t.logger.Info().
		Str("session_id", id).
		Int("kept", len(turns)).
		Int("dropped", skipped).
		Msg("Transcript repaired")
	return skipped, nil
}

// Forget releases the per-session write lock bookkeeping for id.
func (t *Transcript) Forget(id string) {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	delete(t.writeLocks, id)
}
