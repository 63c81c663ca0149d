// Package logger configures the process-wide zerolog logger: an optional
// console writer on stderr, a size-rotated log file and secret redaction.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error; empty means info
	File       string // rotated log file, empty disables file output
	Console    bool   // write to stderr
	Pretty     bool   // human readable console output
	Redaction  bool   // mask provider keys and credentials
	MaxSize    int    // MB before rotation
	MaxAge     int    // days to keep rotated files
	MaxBackups int    // rotated files to keep, 0 keeps all
	Compress   bool   // gzip rotated files
}

// Logger owns the writers behind the global logger
type Logger struct {
	logger zerolog.Logger
	file   *lumberjack.Logger
}

// New builds a logger and installs it as log.Logger. Console output goes to
// stderr because stdout belongs to the interactive chat. With neither console
// nor file configured, logs are discarded.
func New(cfg Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	l := &Logger{}
	var writers []io.Writer

	if cfg.Console {
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		} else {
			writers = append(writers, os.Stderr)
		}
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		writers = append(writers, l.file)
	}

	var out io.Writer = io.Discard
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	if cfg.Redaction {
		out = NewRedactor().Wrap(out)
	}

	l.logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = l.logger
	return l, nil
}

// Close flushes and closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// GetZerolog returns the underlying logger for components that take one
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}
