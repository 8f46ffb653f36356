// Package cmd implements the claude-usage-tracker CLI commands.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/claude-usage-tracker/internal/pipeline"
)

var (
	flagConfig           string
	flagCredentialSource string
	flagVerbose          bool
)

var rootCmd = &cobra.Command{
	Use:   "claude-usage-tracker",
	Short: "Claude subscription usage for desktop widgets",
	Long: "Fetch Claude subscription usage with the Claude Code OAuth credential,\n" +
		"keep a 7-day history and print one JSON snapshot line for a widget to read.",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runFetch,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch usage and print the snapshot as one JSON line (default)",
	Args:  cobra.NoArgs,
	RunE:  runFetch,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/claude-usage-tracker/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagCredentialSource, "credential-source", "", "Credential source: auto, file, bridge, keyring (kwallet)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging on stderr")

	rootCmd.AddCommand(runCmd)
}

func runFetch(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.pipeline()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	res := p.Run(ctx)
	return pipeline.Emit(cmd.OutOrStdout(), res.Snapshot)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
