package cli

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/harun/weave/internal/command"
	"github.com/mattn/go-isatty"
	"github.com/reeflective/readline"
)

// newLineReader uses an interactive shell with history and slash-command
// completion on a terminal, and a plain scanner otherwise.
func newLineReader(in *os.File, prompt func() string) LineReader {
	if isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()) {
		return newShellReader(prompt)
	}
	return newScanReader(in)
}

type shellReader struct {
	rl *readline.Shell
}

func newShellReader(prompt func() string) *shellReader {
	rl := readline.NewShell()
	rl.Prompt.Primary(prompt)
	rl.History.Add("default", readline.NewInMemoryHistory())
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}
	return &shellReader{rl: rl}
}

func (r *shellReader) Readline() (string, error) {
	line, err := r.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", errInterrupted
	}
	return line, err
}

func (r *shellReader) Close() error { return nil }

// completeInput completes the slash command under the cursor
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]
	if strings.ContainsAny(text, " \t") {
		return readline.Completions{}
	}

	matches := command.Complete(text)
	if len(matches) == 0 {
		return readline.Completions{}
	}

	pairs := make([]string, 0, len(matches)*2)
	for _, spec := range matches {
		pairs = append(pairs, spec.Name, spec.Description)
	}
	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}

type scanReader struct {
	scanner *bufio.Scanner
}

func newScanReader(in io.Reader) *scanReader {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanReader{scanner: scanner}
}

func (r *scanReader) Readline() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) Close() error { return nil }
