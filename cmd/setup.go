package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/claude-usage-tracker/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path := configPath()
	existing := configExists()
	// Load existing config or defaults
	cfg := config.DefaultConfig()
	if existing {
		if flagConfig == "" {
			cfg, _ = config.Load()
		} else {
			cfg, _ = config.LoadFrom(flagConfig)
		}
	}

	source, err := config.NormalizeSource(cfg.Credentials.Source)
	if err != nil {
		source = config.SourceAuto
	}
	bridge := cfg.Credentials.BridgeCommand
	days := strconv.Itoa(cfg.HistoryDays())
	level := cfg.Log.Level

	greeting := "Welcome to claude-usage-tracker!"
	if existing {
		greeting = "Updating " + path
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(greeting).
				Description("Settings are saved as TOML and read on every run."),
			huh.NewSelect[string]().
				Title("Credential source").
				Description("Where the Claude Code OAuth credential is read from.").
				Options(
					huh.NewOption("Auto (file, then vault)", config.SourceAuto),
					huh.NewOption("Claude Code credentials file", config.SourceFile),
					huh.NewOption("OS keyring (KWallet, GNOME Keyring, Keychain)", config.SourceKeyring),
					huh.NewOption("External vault bridge command", config.SourceBridge),
				).
				Value(&source),
			huh.NewInput().
				Title("Vault bridge command").
				Description("Invoked as <command> read|write|check. Leave blank unless using a bridge.").
				Value(&bridge).
				Validate(func(s string) error {
					if source == config.SourceBridge && strings.TrimSpace(s) == "" {
						return errors.New("a bridge command is required for the bridge source")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("History days").
				Value(&days).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 1 || n > 90 {
						return errors.New("enter a number between 1 and 90")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&level),
		),
	)

	if err := form.RunWithContext(cmd.Context()); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(cmd.OutOrStdout(), "  Setup cancelled, nothing saved.")
			return nil
		}
		return fmt.Errorf("setup form: %w", err)
	}

	cfg.Credentials.Source = source
	cfg.Credentials.BridgeCommand = strings.TrimSpace(bridge)
	cfg.General.HistoryDays, _ = strconv.Atoi(strings.TrimSpace(days))
	cfg.Log.Level = level

	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Saved to %s\n", path)
	if source == config.SourceKeyring {
		fmt.Fprintln(w, "  Store a token with: claude-usage-tracker vault write < token.txt")
	}
	fmt.Fprintln(w, "  Run `claude-usage-tracker setup` anytime to reconfigure.")
	fmt.Fprintln(w)

	return nil
}
