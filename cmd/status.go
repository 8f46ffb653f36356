package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/claude-usage-tracker/internal/cli"
	"github.com/theirongolddev/claude-usage-tracker/internal/model"
)

var flagCached bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show subscription usage, reset countdowns and the 7-day chart",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagCached, "cached", false, "Show the last cached snapshot without fetching")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	var snap model.Snapshot
	if flagCached {
		data, err := os.ReadFile(a.cfg.CachePath())
		if err != nil {
			return fmt.Errorf("no cached snapshot (run claude-usage-tracker first): %w", err)
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parsing %s: %w", a.cfg.CachePath(), err)
		}
	} else {
		p, err := a.pipeline()
		if err != nil {
			return err
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		snap = p.Run(ctx).Snapshot
	}

	renderStatus(cmd.OutOrStdout(), snap, time.Now())
	return nil
}

func renderStatus(w io.Writer, snap model.Snapshot, now time.Time) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, cli.RenderTitle("CLAUDE USAGE"))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Plan: %s\n\n", snap.SubscriptionType)

	if snap.Failed() {
		fmt.Fprintf(w, "  %s\n\n", cli.WarnStyle.Render(snap.ErrorMessage()))
	} else {
		rows := [][]string{
			limitRow("5-hour session", snap.Session, now),
			limitRow("7-day (all)", snap.Weekly, now),
			limitRow("7-day Sonnet", snap.Sonnet, now),
			limitRow("7-day Opus", snap.Opus, now),
		}
		fmt.Fprint(w, cli.RenderTable(cli.Table{
			Title:   "Rate Limits",
			Headers: []string{"Window", "Used", "Bar", "Resets"},
			Rows:    rows,
		}))
		fmt.Fprintln(w)

		if e := snap.Extra; e != nil {
			fmt.Fprint(w, cli.RenderTable(cli.Table{
				Title:   "Extra Usage",
				Headers: []string{"Setting", "Value"},
				Rows: [][]string{
					{"Used", cli.FormatMoney(e.Used)},
					{"Monthly Limit", cli.FormatMoney(e.Limit)},
					{"Utilization", cli.FormatPercent(e.Utilization)},
				},
			}))
			fmt.Fprintln(w)
		}
	}

	if len(snap.DailyHistory) > 0 {
		values := lo.Map(snap.DailyHistory, func(d model.DayBar, _ int) float64 { return d.Percent })
		first, last := snap.DailyHistory[0], snap.DailyHistory[len(snap.DailyHistory)-1]
		fmt.Fprintf(w, "  Session peaks  %s  %s\n\n",
			cli.RenderSparkline(values, 100),
			cli.MutedStyle.Render(first.Date+" to "+last.Date))
	}

	fmt.Fprintf(w, "  Updated at %s\n\n", snap.LastUpdated)
}

func limitRow(label string, l model.Limit, now time.Time) []string {
	return []string{
		label,
		cli.FormatPercent(l.Used),
		cli.RenderUsageBar(l.Used, 20),
		cli.FormatResetsAt(l.ResetsAt, now),
	}
}
