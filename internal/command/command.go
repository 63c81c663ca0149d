// Package command parses chat input into a closed set of commands.
//
// Lines starting with "/" are slash commands; anything else is a Message
// for the active session.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harun/weave/pkg/workqueue"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
)

// Command is one parsed line of input
type Command interface {
	command()
}

// Message is plain text for the active session
type Message struct{ Text string }

// List shows every live session
type List struct{}

// Switch makes the selected session active
type Switch struct{ Selector string }

// New creates a session. An empty Name lets the caller pick one.
type New struct{ Name string }

// Close closes the selected session, or the active one when Selector is empty.
type Close struct{ Selector string }

// Background queues Text for the selected session
type Background struct {
	Selector string
	Text     string
	Priority workqueue.Priority
}

// View prints unseen output of the selected (or active) session
type View struct{ Selector string }

// Stats prints scheduler counters
type Stats struct{}

// Help prints the command reference
type Help struct{}

// Quit leaves the chat loop
type Quit struct{}

func (Message) command()    {}
func (List) command()       {}
func (Switch) command()     {}
func (New) command()        {}
func (Close) command()      {}
func (Background) command() {}
func (View) command()       {}
func (Stats) command()      {}
func (Help) command()       {}
func (Quit) command()       {}

// Spec describes a slash command for help text and completion
type Spec struct {
	Name        string
	Usage       string
	Description string
	Aliases     []string
}

// Specs lists every slash command in help order
var Specs = []Spec{
	{Name: "/list", Usage: "/list", Description: "List sessions", Aliases: []string{"/ls"}},
	{Name: "/switch", Usage: "/switch <position|name|id>", Description: "Switch the active session", Aliases: []string{"/s"}},
	{Name: "/new", Usage: "/new [name]", Description: "Create a session"},
	{Name: "/close", Usage: "/close [position|name|id]", Description: "Close a session (default: active)"},
	{Name: "/bg", Usage: "/bg <position|name|id> [--low] <text>", Description: "Queue a message for a background session"},
	{Name: "/view", Usage: "/view [position|name|id]", Description: "Show output produced since the last view"},
	{Name: "/stats", Usage: "/stats", Description: "Show queue and worker counters"},
	{Name: "/help", Usage: "/help", Description: "Show available commands", Aliases: []string{"/h", "/?"}},
	{Name: "/quit", Usage: "/quit", Description: "Exit the chat", Aliases: []string{"/exit", "/q"}},
}

// Parse turns a line of input into a Command. Blank lines return nil.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Message{Text: line}, nil
	}

	name, rest := splitWord(line)
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "/list", "/ls":
		return List{}, nil
	case "/switch", "/s":
		if rest == "" {
			return nil, fmt.Errorf("%w: usage %s", ErrMissingArgument, usage("/switch"))
		}
		return Switch{Selector: rest}, nil
	case "/new":
		return New{Name: rest}, nil
	case "/close":
		return Close{Selector: rest}, nil
	case "/bg":
		return parseBackground(rest)
	case "/view":
		return View{Selector: rest}, nil
	case "/stats":
		return Stats{}, nil
	case "/help", "/h", "/?":
		return Help{}, nil
	case "/quit", "/exit", "/q":
		return Quit{}, nil
	default:
		return nil, fmt.Errorf("%w: %s (use /help for available commands)", ErrUnknownCommand, name)
	}
}

// parseBackground reads "<selector> [--low|--high] <text>". A selector with
// spaces must be quoted.
func parseBackground(rest string) (Command, error) {
	selector, text, err := splitSelector(rest)
	if err != nil {
		return nil, err
	}

	cmd := Background{Selector: selector, Priority: workqueue.High}
	for {
		flag, remainder := splitWord(text)
		switch flag {
		case "--low":
			cmd.Priority = workqueue.Low
		case "--high":
			cmd.Priority = workqueue.High
		default:
			cmd.Text = strings.TrimSpace(text)
			if cmd.Selector == "" || cmd.Text == "" {
				return nil, fmt.Errorf("%w: usage %s", ErrMissingArgument, usage("/bg"))
			}
			return cmd, nil
		}
		text = strings.TrimSpace(remainder)
	}
}

func splitSelector(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) {
		end := strings.Index(s[1:], `"`)
		if end < 0 {
			return "", "", fmt.Errorf("%w: unterminated quote in selector", ErrMissingArgument)
		}
		return s[1 : end+1], strings.TrimSpace(s[end+2:]), nil
	}
	word, rest := splitWord(s)
	return word, strings.TrimSpace(rest), nil
}

func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func usage(name string) string {
	for _, spec := range Specs {
		if spec.Name == name {
			return spec.Usage
		}
	}
	return name
}

// Complete returns slash commands starting with prefix
func Complete(prefix string) []Spec {
	if !strings.HasPrefix(prefix, "/") {
		return nil
	}
	var out []Spec
	for _, spec := range Specs {
		if strings.HasPrefix(spec.Name, prefix) {
			out = append(out, spec)
		}
	}
	return out
}

// HelpText renders the command reference
func HelpText() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, spec := range Specs {
		fmt.Fprintf(&b, "  %-40s %s\n", spec.Usage, spec.Description)
	}
	b.WriteString("\nAnything else is sent to the active session.")
	return b.String()
}
