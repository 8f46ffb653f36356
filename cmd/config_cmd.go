package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/claude-usage-tracker/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "  Config file: %s\n", configPath())
	if configExists() {
		fmt.Fprintln(w, "  Status: loaded")
	} else {
		fmt.Fprintln(w, "  Status: using defaults (no config file)")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  [General]")
	fmt.Fprintf(w, "    Claude directory:  %s\n", cfg.ClaudeDir())
	fmt.Fprintf(w, "    Data directory:    %s\n", cfg.DataDir())
	fmt.Fprintf(w, "    History days:      %d\n", cfg.HistoryDays())
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  [Credentials]")
	src, err := cfg.CredentialSource()
	if err != nil {
		fmt.Fprintf(w, "    Source:          invalid (%v)\n", err)
	} else {
		fmt.Fprintf(w, "    Source:          %s\n", src)
	}
	fmt.Fprintf(w, "    Credential file: %s\n", cfg.CredentialsPath())
	if cfg.Credentials.BridgeCommand != "" {
		fmt.Fprintf(w, "    Bridge command:  %s\n", cfg.Credentials.BridgeCommand)
	}
	fmt.Fprintf(w, "    Keyring entry:   %s\n", keyringEntry(cfg))
	fmt.Fprintf(w, "    Token endpoint:  %s\n", orDefault(cfg.Credentials.TokenURL, "default"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  [API]")
	fmt.Fprintf(w, "    Usage URL: %s\n", orDefault(cfg.API.UsageURL, "default"))
	fmt.Fprintf(w, "    Timeout:   %s\n", cfg.Timeout())
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  [Log]")
	fmt.Fprintf(w, "    Level: %s\n", cfg.Log.Level)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  Run `claude-usage-tracker setup` to reconfigure.")
	return nil
}

func keyringEntry(cfg config.Config) string {
	return orDefault(cfg.Credentials.KeyringService, "claude-usage-tracker") + "/" +
		orDefault(cfg.Credentials.KeyringUser, "oauth-token")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
