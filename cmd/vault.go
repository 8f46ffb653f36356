package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/claude-usage-tracker/internal/credentials"
)

// errVaultFailed signals a reply that was already printed with status "error".
var errVaultFailed = errors.New("vault request failed")

var vaultCmd = &cobra.Command{
	Use:   "vault <read|write|check>",
	Short: "Vault bridge backed by the OS keyring (KWallet, GNOME Keyring, Keychain)",
	Long: "Implements the vault bridge protocol on the OS keyring so this binary can\n" +
		"serve as credentials.bridge_command. Each action prints one JSON object:\n" +
		"  read   {\"status\":\"ok\",\"token\":\"...\"}\n" +
		"  write  token on stdin, {\"status\":\"ok\"}\n" +
		"  check  {\"status\":\"ok\",\"exists\":true|false}\n" +
		"Failures print {\"status\":\"error\",\"error\":\"...\"} and exit 1.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"read", "write", "check"},
	RunE:      runVault,
}

func init() {
	rootCmd.AddCommand(vaultCmd)
}

func runVault(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	b := &credentials.KeyringBackend{
		Service: a.cfg.Credentials.KeyringService,
		User:    a.cfg.Credentials.KeyringUser,
	}
	reply := credentials.ServeBridge(cmd.Context(), b, args[0], cmd.InOrStdin())

	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(reply); err != nil {
		return err
	}
	if reply.Status != "ok" {
		cmd.SilenceErrors = true
		return errVaultFailed
	}
	return nil
}
