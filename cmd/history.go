package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/claude-usage-tracker/internal/cli"
)

var flagHistoryJSON bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the stored daily session peaks",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&flagHistoryJSON, "json", false, "Print the display array as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	bars := a.tracker().Display()
	w := cmd.OutOrStdout()

	if flagHistoryJSON {
		data, err := json.Marshal(bars)
		if err != nil {
			return fmt.Errorf("encoding history: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if len(bars) == 0 {
		fmt.Fprintln(w, "  No history recorded yet.")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, cli.RenderTitle(fmt.Sprintf("SESSION PEAKS (%d DAYS)", a.cfg.HistoryDays())))
	fmt.Fprintln(w)
	for _, b := range bars {
		fmt.Fprintln(w, cli.RenderHorizontalBar(b.Day+" "+b.Date, b.Percent, 40))
	}
	fmt.Fprintln(w)
	return nil
}
