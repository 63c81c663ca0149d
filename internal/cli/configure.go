package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/harun/weave/internal/config"
	"github.com/spf13/cobra"
)

var configureForce bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set up the provider profile and worker pool",
	Long: `Run an interactive configuration wizard for weave.

It asks for the completion provider, how many background workers to run and
how many remote calls they may make at once, then writes the config file.
An existing config is only replaced with --force; its data directory is kept
so saved sessions stay restorable.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "replace an existing config file")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()

	var previous *config.Config
	if _, err := os.Stat(path); err == nil {
		if !configureForce {
			return fmt.Errorf("config already exists at %s, rerun with --force to replace it", path)
		}
		if previous, err = loader.Load(); err != nil {
			return fmt.Errorf("failed to read existing config: %w", err)
		}
	}

	cfg, err := config.NewWizard(cmd.InOrStdin(), out).Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}
	if previous != nil {
		cfg.DataDir = previous.DataDir
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	saved, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("saved config does not load back: %w", err)
	}
	printSummary(out, path, saved)
	return nil
}

func printSummary(out io.Writer, path string, cfg *config.Config) {
	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", path)
	if p, ok := cfg.PrimaryProfile(); ok {
		model := p.Model
		if model == "" {
			model = "provider default"
		}
		fmt.Fprintf(out, "  provider: %s (%s)\n", p.Provider, model)
	}
	fmt.Fprintf(out, "  workers:  %d, at most %d remote calls at once\n", cfg.Scheduler.Workers, cfg.Scheduler.Permits)
	fmt.Fprintf(out, "  sessions: %s\n", cfg.SessionsDir())
	fmt.Fprintln(out, "\nStart chatting with: weave chat")
}
