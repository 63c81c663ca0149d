package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/harun/weave/internal/command"
	weaveruntime "github.com/harun/weave/internal/runtime"
	"github.com/harun/weave/pkg/coordinator"
	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/sessionlock"
	"github.com/harun/weave/pkg/workerpool"
	"github.com/spf13/cobra"
)

var chatOffline bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive multi-session chat",
	Long: `Start an interactive chat. Messages go to the active session; slash
commands create, switch and close sessions or queue work for background
sessions. Type /help inside the chat for the command list.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatOffline, "offline", false, "use the offline echo provider instead of a configured AI profile")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	rt, err := weaveruntime.New(cfg, log, weaveruntime.Options{Offline: chatOffline, Version: version})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("Runtime stopped with errors")
		}
	}()

	chat := NewChat(rt.Coordinator(), rt.Pool(), cmd.OutOrStdout())
	reader := newLineReader(os.Stdin, chat.Prompt)
	defer reader.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "weave %s (%s). Type /help for commands.\n", version, rt.Status().Provider)
	return chat.Run(ctx, reader)
}

// LineReader yields one line of user input at a time
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// errInterrupted ends the loop the same way EOF does
var errInterrupted = errors.New("interrupted")

// Chat drives a coordinator from lines of user input
type Chat struct {
	coord *coordinator.Coordinator
	pool  *workerpool.Pool
	out   io.Writer
	mu    sync.Mutex
}

// NewChat creates a chat writing to out. pool may be nil.
func NewChat(coord *coordinator.Coordinator, pool *workerpool.Pool, out io.Writer) *Chat {
	return &Chat{coord: coord, pool: pool, out: out}
}

// Prompt renders the input prompt with the active session's name
func (c *Chat) Prompt() string {
	if sess, ok := c.coord.Active(); ok {
		return fmt.Sprintf("weave[%s]> ", sess.Name())
	}
	return "weave> "
}

// Run reads lines until EOF, interrupt, /quit or ctx is done. Background
// completions are announced while it runs.
func (c *Chat) Run(ctx context.Context, reader LineReader) error {
	ctx, cancel := context.WithCancel(ctx)

	notifications, unsubscribe := c.coord.Notifications()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watchNotifications(ctx, notifications)
	}()
	defer wg.Wait()
	defer cancel()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := reader.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, errInterrupted) {
				c.printf("\nGoodbye!\n")
				return nil
			}
			return err
		}
		if quit := c.Handle(ctx, line); quit {
			c.printf("Goodbye!\n")
			return nil
		}
	}
}

// Handle executes one line of input and reports whether the chat should end
func (c *Chat) Handle(ctx context.Context, line string) bool {
	cmd, err := command.Parse(line)
	if err != nil {
		c.printf("%v\n", err)
		return false
	}
	if cmd == nil {
		return false
	}

	switch cmd := cmd.(type) {
	case command.Message:
		c.send(ctx, cmd.Text)
	case command.List:
		c.list()
	case command.Switch:
		c.switchTo(ctx, cmd.Selector)
	case command.New:
		c.create(ctx, cmd.Name)
	case command.Close:
		c.close(ctx, cmd.Selector)
	case command.Background:
		itemID, err := c.coord.SubmitBackground(ctx, cmd.Selector, cmd.Text, cmd.Priority)
		if err != nil {
			c.report(err)
			return false
		}
		c.printf("Queued %s for %s (%s priority)\n", itemID, cmd.Selector, cmd.Priority)
	case command.View:
		c.view(cmd.Selector)
	case command.Stats:
		c.stats()
	case command.Help:
		c.printf("%s\n", command.HelpText())
	case command.Quit:
		return true
	}
	return false
}

func (c *Chat) send(ctx context.Context, text string) {
	streamed := false
	res, err := c.coord.RunForeground(ctx, text, func(kind session.EntryKind, chunk string) {
		switch kind {
		case session.EntryText:
			streamed = true
			c.printf("%s", chunk)
		case session.EntryTool:
			c.printf("\n  [tool] %s\n", chunk)
		default:
			c.printf("\n%s\n", chunk)
		}
	})
	if err != nil {
		c.report(err)
		return
	}
	if !streamed && res.Response != "" {
		c.printf("%s", res.Response)
	}
	c.printf("\n")
}

func (c *Chat) list() {
	entries := c.coord.ListSessions()

	c.mu.Lock()
	defer c.mu.Unlock()
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\t#\tNAME\tSTATUS\tMODE\tPENDING\tUNSEEN")
	for _, e := range entries {
		marker := ""
		if e.Active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%d\n", marker, e.Position, e.Name, e.Status, e.Mode, e.Pending, e.Unseen)
	}
	_ = w.Flush()
}

func (c *Chat) switchTo(ctx context.Context, selector string) {
	id, err := c.coord.SwitchSession(ctx, selector)
	if err != nil {
		c.report(err)
		return
	}
	sess, ok := c.coord.Lookup(id)
	if !ok {
		return
	}
	c.printf("Switched to %s\n", sess.Name())
	if sess.Output().Unseen() > 0 {
		c.view("")
	}
}

func (c *Chat) create(ctx context.Context, name string) {
	if name == "" {
		name = c.nextName()
	}
	id, err := c.coord.CreateSession(ctx, name, session.KindStandard)
	if err != nil {
		c.report(err)
		return
	}
	if _, err := c.coord.SwitchSession(ctx, id); err != nil {
		c.report(err)
		return
	}
	c.printf("Created and switched to %s\n", name)
}

// nextName picks the first free "session-N"
func (c *Chat) nextName() string {
	taken := make(map[string]bool)
	for _, e := range c.coord.ListSessions() {
		taken[e.Name] = true
	}
	for i := len(taken) + 1; ; i++ {
		name := fmt.Sprintf("session-%d", i)
		if !taken[name] {
			return name
		}
	}
}

func (c *Chat) close(ctx context.Context, selector string) {
	if selector == "" {
		sess, ok := c.coord.Active()
		if !ok {
			c.report(coordinator.ErrNoActiveSession)
			return
		}
		selector = sess.ID()
	}
	if err := c.coord.CloseSession(ctx, selector); err != nil {
		c.report(err)
		return
	}
	if sess, ok := c.coord.Active(); ok {
		c.printf("Closed. Active session: %s\n", sess.Name())
		return
	}
	c.printf("Closed.\n")
}

func (c *Chat) view(selector string) {
	v, err := c.coord.View(selector)
	if err != nil {
		c.report(err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v.Dropped > 0 {
		fmt.Fprintf(c.out, "[%d older entries dropped]\n", v.Dropped)
	}
	if len(v.Entries) == 0 {
		fmt.Fprintf(c.out, "No new output in %s\n", v.Name)
		return
	}
	fmt.Fprintf(c.out, "--- %s (%s) ---\n", v.Name, v.Status)
	for _, e := range v.Entries {
		switch e.Kind {
		case session.EntryTool:
			fmt.Fprintf(c.out, "  [tool] %s\n", e.Text)
		default:
			fmt.Fprintln(c.out, e.Text)
		}
	}
}

func (c *Chat) stats() {
	s := c.coord.Stats()

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "sessions: %d live, %d pending items, %d locks held\n", s.Live, s.Pending, s.LocksHeld)
	var depths []string
	for priority, n := range s.QueueDepths {
		depths = append(depths, fmt.Sprintf("%s=%d", priority, n))
	}
	sort.Strings(depths)
	if len(depths) > 0 {
		fmt.Fprintf(c.out, "queue: %s\n", strings.Join(depths, " "))
	}
	if c.pool != nil {
		p := c.pool.Stats()
		fmt.Fprintf(c.out, "workers: %d, permits: %d, in flight: %d (peak %d), processed: %d\n",
			p.Workers, p.Permits, p.InFlight, p.HighWater, p.Processed)
	}
}

func (c *Chat) watchNotifications(ctx context.Context, notifications <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-notifications:
			if !ok {
				return
			}
			name := id
			unseen := 0
			if sess, found := c.coord.Lookup(id); found {
				name = sess.Name()
				unseen = sess.Output().Unseen()
			}
			if unseen == 0 {
				continue
			}
			c.printf("\n[bg] %s has %d new entries (/view %s)\n", name, unseen, name)
		}
	}
}

// report turns coordinator errors into a single user-facing line
func (c *Chat) report(err error) {
	switch {
	case errors.Is(err, sessionlock.ErrLockTimeout):
		c.printf("Session is busy, try again shortly (%v)\n", err)
	case errors.Is(err, coordinator.ErrOutOfRange):
		c.printf("No session at that position (%v)\n", err)
	case errors.Is(err, coordinator.ErrNotFound):
		c.printf("No such session (%v)\n", err)
	case coordinator.IsValidation(err):
		c.printf("%v\n", err)
	default:
		c.printf("Error: %v\n", err)
	}
}

func (c *Chat) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
