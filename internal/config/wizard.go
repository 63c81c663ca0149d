package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard reading answers from in
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== weave configuration ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	fmt.Fprint(w.out, "Provider (anthropic/openai/scripted) [anthropic]: ")
	provider, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if provider == "" {
		provider = "anthropic"
	}
	if err := validator.ValidateProvider(provider); err != nil {
		return nil, err
	}

	profile := AIProfile{ID: "default", Provider: provider, Priority: 1}

	if provider != "scripted" {
		for {
			fmt.Fprintf(w.out, "%s API key: ", provider)
			key, err := w.readLine()
			if err != nil {
				return nil, err
			}
			if err := validator.ValidateAPIKey(key, provider); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			profile.APIKey = key
			break
		}

		fmt.Fprint(w.out, "Model (empty for provider default): ")
		model, err := w.readLine()
		if err != nil {
			return nil, err
		}
		profile.Model = model
	}
	cfg.AI.Profiles = []AIProfile{profile}

	fmt.Fprintln(w.out)
	fmt.Fprintf(w.out, "Background workers [%d]: ", cfg.Scheduler.Workers)
	if n, ok, err := w.readInt(); err != nil {
		return nil, err
	} else if ok {
		cfg.Scheduler.Workers = n
	}

	fmt.Fprintf(w.out, "Concurrent remote calls [%d]: ", cfg.Scheduler.Permits)
	if n, ok, err := w.readInt(); err != nil {
		return nil, err
	} else if ok {
		cfg.Scheduler.Permits = n
	}
	if cfg.Scheduler.Permits > cfg.Scheduler.Workers {
		fmt.Fprintf(w.out, "Warning: permits capped at %d workers\n", cfg.Scheduler.Workers)
		cfg.Scheduler.Permits = cfg.Scheduler.Workers
	}

	fmt.Fprint(w.out, "Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readInt() (int, bool, error) {
	line, err := w.readLine()
	if err != nil || line == "" {
		return 0, false, err
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 {
		fmt.Fprintf(w.out, "Warning: %q is not a positive number, keeping default\n", line)
		return 0, false, nil
	}
	return n, true, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
