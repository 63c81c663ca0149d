package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/weave/internal/observability"
	"github.com/harun/weave/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	tracerName   = "weave.snapshot"
	snapshotExt  = ".json"
	tempSuffix   = ".tmp"
	snapshotPerm = 0600
)

// Store reads and writes snapshot files in one directory. Saves of one id
// are serialized so they never share the temp file.
type Store struct {
	fs     afero.Fs
	dir    string
	logger zerolog.Logger

	locksMu    sync.Mutex
	writeLocks map[string]*sync.Mutex
}

// NewStore creates the directory if needed and returns a store rooted at dir.
func NewStore(fs afero.Fs, dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &Store{
		fs:         fs,
		dir:        dir,
		logger:     log.Logger.With().Str("component", "snapshot-store").Logger(),
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the directory the store writes to
func (s *Store) Dir() string {
	return s.dir
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+snapshotExt)
}

func (s *Store) writeLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.writeLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.writeLocks[id] = lock
	}
	return lock
}

// Save atomically replaces the snapshot for snap.ID. A Completed snapshot on
// disk is never replaced by a non-Completed one (ErrCompleted).
func (s *Store) Save(ctx context.Context, snap Snapshot) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "snapshot.save", attribute.String("session_id", snap.ID))
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSnapshotSave(time.Since(start), err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := validateID(snap.ID); err != nil {
		return err
	}
	if snap.Version == 0 {
		snap.Version = Version
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	lock := s.writeLock(snap.ID)
	lock.Lock()
	defer lock.Unlock()

	if !snap.Completed() {
		if current, lerr := s.Load(snap.ID); lerr == nil && current.Completed() {
			return fmt.Errorf("%w: %s", ErrCompleted, snap.ID)
		}
	}

	if err := writeAtomic(s.fs, s.path(snap.ID), data); err != nil {
		return err
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("session_id", snap.ID).
		Str("status", string(snap.Status)).
		Msg("Snapshot saved")

	return nil
}

// writeAtomic writes data to path+".tmp", syncs, then renames over path.
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	tempPath := path + tempSuffix

	file, err := fs.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, snapshotPerm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		fs.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		fs.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := file.Close(); err != nil {
		fs.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fs.Rename(tempPath, path); err != nil {
		fs.Remove(tempPath)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	return nil
}

// Load reads a single snapshot.
func (s *Store) Load(id string) (Snapshot, error) {
	if err := validateID(id); err != nil {
		return Snapshot{}, err
	}

	path := s.path(id)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return decode(path, data)
}

func decode(path string, data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, &CorruptionError{Path: path, Reason: "unparsable JSON", Err: err}
	}
	if err := validateSchema(data); err != nil {
		return Snapshot{}, &CorruptionError{Path: path, Reason: "schema", Err: err}
	}
	if want := strings.TrimSuffix(filepath.Base(path), snapshotExt); snap.ID != want {
		return Snapshot{}, &CorruptionError{Path: path, Reason: fmt.Sprintf("id %q does not match file name", snap.ID)}
	}
	return snap, nil
}

// LoadAll reads every snapshot in the directory, ordered by creation time.
// Corrupt files are logged, counted and skipped.
func (s *Store) LoadAll(ctx context.Context) ([]Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "snapshot.load_all")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	defer func() {
		observability.RecordSnapshotLoad(time.Since(start))
	}()

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != snapshotExt {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to read snapshot, skipping")
			continue
		}

		snap, err := decode(path, data)
		if err != nil {
			observability.RecordSnapshotCorrupt()
			logger.Warn().Err(err).Str("path", path).Msg("Corrupt snapshot, skipping")
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})

	span.SetAttributes(attribute.Int("snapshots", len(snaps)))
	return snaps, nil
}

// Restorable returns the snapshots of sessions that were not closed.
func (s *Store) Restorable(ctx context.Context) ([]Snapshot, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	restorable := make([]Snapshot, 0, len(all))
	for _, snap := range all {
		if !snap.Completed() {
			restorable = append(restorable, snap)
		}
	}
	return restorable, nil
}

// CleanupTemp removes temp files left behind by an interrupted save.
func (s *Store) CleanupTemp() (int, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tempSuffix) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := s.fs.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove leftover temp file")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Removed leftover temp files")
	}
	return removed, nil
}
