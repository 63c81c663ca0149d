package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// ErrAlreadyRunning is returned when another live process owns the data directory
var ErrAlreadyRunning = errors.New("another weave process is using this data directory")

const pidFileName = "weave.pid"

// Lifecycle guards the data directory with a PID file so two processes never
// write the same snapshots.
type Lifecycle struct {
	fs      afero.Fs
	dataDir string
	pidFile string
	pid     int
}

// NewLifecycle creates a lifecycle guard for dataDir
func NewLifecycle(fs afero.Fs, dataDir string) *Lifecycle {
	return &Lifecycle{
		fs:      fs,
		dataDir: dataDir,
		pidFile: filepath.Join(dataDir, pidFileName),
		pid:     os.Getpid(),
	}
}

// Start creates the data directory and claims it. A PID file left by a dead
// process is taken over.
func (l *Lifecycle) Start() error {
	if err := l.fs.MkdirAll(l.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if pid, err := l.PID(); err == nil && (pid == l.pid || processAlive(pid)) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	if err := afero.WriteFile(l.fs, l.pidFile, []byte(strconv.Itoa(l.pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Stop removes the PID file if this process still owns it
func (l *Lifecycle) Stop() error {
	pid, err := l.PID()
	if err != nil || pid != l.pid {
		return nil
	}
	if err := l.fs.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// PID returns the PID recorded in the PID file
func (l *Lifecycle) PID() (int, error) {
	data, err := afero.ReadFile(l.fs, l.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// PIDFile returns the PID file path
func (l *Lifecycle) PIDFile() string {
	return l.pidFile
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 checks existence.
	return process.Signal(syscall.Signal(0)) == nil
}
