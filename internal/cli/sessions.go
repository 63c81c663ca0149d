package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/harun/weave/pkg/snapshot"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var sessionsWatch bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect persisted sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted sessions",
	Long: `List every session snapshot in the data directory, including evicted
and completed ones. With --watch the table is reprinted whenever a snapshot
is saved or removed.`,
	RunE: runSessionsList,
}

func init() {
	sessionsListCmd.Flags().BoolVarP(&sessionsWatch, "watch", "w", false, "reprint when snapshots change")
	sessionsCmd.AddCommand(sessionsListCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	store, err := snapshot.NewStore(afero.NewOsFs(), cfg.SessionsDir())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !sessionsWatch {
		return printSnapshots(cmd.Context(), store, out)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watchSnapshots(ctx, store, out)
}

func watchSnapshots(ctx context.Context, store *snapshot.Store, out io.Writer) error {
	changes := make(chan snapshot.Change, 16)
	watcher, err := snapshot.NewWatcher(snapshot.WatcherConfig{
		Dir: store.Dir(),
		OnChange: func(change snapshot.Change) {
			select {
			case changes <- change:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	if err := printSnapshots(ctx, store, out); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-changes:
			fmt.Fprintf(out, "\n[%s] %s %s\n", time.Now().Format(time.TimeOnly), change.ID, change.Op)
			if err := printSnapshots(ctx, store, out); err != nil {
				return err
			}
		}
	}
}

func printSnapshots(ctx context.Context, store *snapshot.Store, out io.Writer) error {
	snaps, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})

	if len(snaps) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tLAST ACTIVE\tFIRST MESSAGE")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Status, s.LastActive.Local().Format(time.DateTime), truncate(s.FirstMessage, 40))
	}
	return w.Flush()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
