package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/claude-usage-tracker/internal/cli"
	"github.com/theirongolddev/claude-usage-tracker/internal/store"
)

var (
	flagSampleDays int
	flagSampleJSON bool
)

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Show the recorded usage samples",
	Args:  cobra.NoArgs,
	RunE:  runSamples,
}

func init() {
	samplesCmd.Flags().IntVarP(&flagSampleDays, "days", "n", 1, "Time window in days")
	samplesCmd.Flags().BoolVar(&flagSampleJSON, "json", false, "Print samples as JSON")
	rootCmd.AddCommand(samplesCmd)
}

func runSamples(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	l, err := store.Open(a.cfg.SamplesPath())
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	since := time.Now().AddDate(0, 0, -flagSampleDays)
	samples, err := l.Samples(cmd.Context(), since)
	if err != nil {
		return err
	}

	total, err := l.Count(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if flagSampleJSON {
		data, err := json.Marshal(samples)
		if err != nil {
			return fmt.Errorf("encoding samples: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if len(samples) == 0 {
		fmt.Fprintf(w, "  No samples in the last %d day(s) (%d stored).\n", flagSampleDays, total)
		return nil
	}

	rows := lo.Map(samples, func(s store.Sample, _ int) []string {
		extra := "-"
		if s.ExtraUsed != nil {
			extra = cli.FormatMoney(*s.ExtraUsed)
		}
		return []string{
			s.FetchedAt.Format("01-02 15:04"),
			cli.FormatPercent(s.Session),
			cli.FormatPercent(s.Weekly),
			cli.FormatPercent(s.Sonnet),
			cli.FormatPercent(s.Opus),
			extra,
		}
	})

	fmt.Fprintln(w)
	fmt.Fprint(w, cli.RenderTable(cli.Table{
		Title:   fmt.Sprintf("Samples (%d of %d stored)", len(samples), total),
		Headers: []string{"Fetched", "Session", "Weekly", "Sonnet", "Opus", "Extra"},
		Rows:    rows,
	}))
	session := lo.Map(samples, func(s store.Sample, _ int) float64 { return s.Session })
	fmt.Fprintf(w, "\n  Session trend  %s\n\n", cli.RenderSparkline(session, 100))
	return nil
}
