package toolexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/weave/internal/observability"
	"github.com/harun/weave/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
)

const defaultMaxReadBytes = 200000

// Local serves file tool calls from a workspace root.
type Local struct {
	fs     afero.Fs
	root   string
	logger zerolog.Logger
}

// NewLocal confines every call to root on fs.
func NewLocal(fs afero.Fs, root string) *Local {
	observability.EnsureRegistered()

	root = filepath.Clean(root)
	return &Local{
		fs:     afero.NewBasePathFs(fs, root),
		root:   root,
		logger: log.Logger.With().Str("component", "toolexec").Logger(),
	}
}

// Invoke runs call and never returns a Go error
func (l *Local) Invoke(ctx context.Context, call Call) Result {
	ctx, span := tracing.StartSpan(ctx, "weave.toolexec", "tool.invoke",
		attribute.String("tool.kind", string(call.Kind)),
	)
	defer span.End()

	output, err := l.dispatch(call)
	observability.RecordToolInvocation(string(call.Kind), err == nil)

	if err != nil {
		span.RecordError(err)
		logger := tracing.LoggerFromContext(ctx, l.logger)
		logger.Debug().
			Err(err).
			Str("kind", string(call.Kind)).
			Str("path", call.Path).
			Msg("Tool call failed")
		return Result{CallID: call.ID, Kind: call.Kind, Output: err.Error(), IsError: true}
	}
	return Result{CallID: call.ID, Kind: call.Kind, Output: output}
}

func (l *Local) dispatch(call Call) (string, error) {
	switch call.Kind {
	case KindReadFile:
		return l.readFile(call)
	case KindWriteFile:
		return l.writeFile(call)
	case KindListDir:
		return l.listDir(call)
	case KindSkill:
		return "", fmt.Errorf("%w: skill %q is not available in this build", ErrUnsupported, call.Skill)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Kind)
	}
}

// resolve maps a user path to a path relative to the base fs root
func resolve(pathValue string, allowRoot bool) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		if allowRoot {
			return string(filepath.Separator), nil
		}
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	if filepath.IsAbs(pathValue) {
		return "", fmt.Errorf("path %q must be relative to the workspace", pathValue)
	}

	cleaned := filepath.Clean(pathValue)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside workspace root", pathValue)
	}
	return string(filepath.Separator) + cleaned, nil
}

func (l *Local) readFile(call Call) (string, error) {
	target, err := resolve(call.Path, false)
	if err != nil {
		return "", err
	}

	maxBytes := call.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxReadBytes
	}

	file, err := l.fs.Open(target)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", call.Path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", call.Path, err)
	}
	if int64(len(data)) > maxBytes {
		return string(data[:maxBytes]) + "\n... [truncated]", nil
	}
	return string(data), nil
}

func (l *Local) writeFile(call Call) (string, error) {
	target, err := resolve(call.Path, false)
	if err != nil {
		return "", err
	}

	if err := l.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	flag := os.O_CREATE | os.O_WRONLY
	if call.Append {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}

	file, err := l.fs.OpenFile(target, flag, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", call.Path, err)
	}
	defer file.Close()

	n, err := file.WriteString(call.Content)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", call.Path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", n, call.Path), nil
}

func (l *Local) listDir(call Call) (string, error) {
	target, err := resolve(call.Path, true)
	if err != nil {
		return "", err
	}

	entries, err := afero.ReadDir(l.fs, target)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", call.Path, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}
