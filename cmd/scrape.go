package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/schedule-pipeline/internal/orchestrator"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// scrapeFlags collects the invocation knobs. Exactly one of the three mode
// selectors must be used.
type scrapeFlags struct {
	date         string
	startDate    string
	endDate      string
	year         int
	month        int
	force        bool
	fromRaw      bool
	batchSize    int
	maxChunkDays int
	bucket       string
}

func newScrapeCmd() *cobra.Command {
	var flags scrapeFlags

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run the scrape pipeline for a day, a range, or a month",
		Long: `Scrapes the configured schedule source and writes raw pages, parsed day
envelopes, and ledger entries to the configured backends. Already-scraped
days are skipped unless --force is set. Ranges wider than the chunk limit
are split into child executions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			inv, err := flags.invocation()
			if err != nil {
				return err
			}

			res := a.Orchestrator().Run(cmd.Context(), inv)

			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !res.Success {
				return fmt.Errorf("scrape failed: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.date, "date", "", "single day to scrape (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.startDate, "start", "", "range start (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&flags.endDate, "end", "", "range end (YYYY-MM-DD, inclusive)")
	cmd.Flags().IntVar(&flags.year, "year", 0, "month-mode year")
	cmd.Flags().IntVar(&flags.month, "month", 0, "month-mode month (1-12)")
	cmd.Flags().BoolVar(&flags.force, "force", false, "re-scrape days the ledger already marks done")
	cmd.Flags().BoolVar(&flags.fromRaw, "from-raw", false, "re-parse stored raw pages instead of fetching")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "days per batch within a range run")
	cmd.Flags().IntVar(&flags.maxChunkDays, "max-chunk-days", 0, "widest span processed without fan-out")
	cmd.Flags().StringVar(&flags.bucket, "bucket", "", "bucket override passed to child executions")

	return cmd
}

// invocation maps the flags to one orchestrator invocation.
func (f scrapeFlags) invocation() (orchestrator.Invocation, error) {
	selectors := 0
	if f.date != "" {
		selectors++
	}
	if f.startDate != "" || f.endDate != "" {
		selectors++
	}
	if f.year != 0 || f.month != 0 {
		selectors++
	}
	if selectors != 1 {
		return orchestrator.Invocation{}, fmt.Errorf(
			"exactly one of --date, --start/--end, or --year/--month is required")
	}

	inv := orchestrator.Invocation{
		ForceScrape:  f.force,
		FromRaw:      f.fromRaw,
		BatchSize:    f.batchSize,
		MaxChunkDays: f.maxChunkDays,
		Bucket:       f.bucket,
	}

	switch {
	case f.date != "":
		day, err := schedule.ParseDate(f.date)
		if err != nil {
			return orchestrator.Invocation{}, fmt.Errorf("--date: %w", err)
		}
		inv.Mode = orchestrator.ModeDay
		inv.Year = day.Year()
		inv.Month = int(day.Month())
		inv.Day = day.Day()
	case f.startDate != "" || f.endDate != "":
		if f.startDate == "" || f.endDate == "" {
			return orchestrator.Invocation{}, fmt.Errorf("--start and --end must be set together")
		}
		inv.Mode = orchestrator.ModeRange
		inv.StartDate = f.startDate
		inv.EndDate = f.endDate
	default:
		if f.year == 0 || f.month == 0 {
			return orchestrator.Invocation{}, fmt.Errorf("--year and --month must be set together")
		}
		inv.Mode = orchestrator.ModeMonth
		inv.Year = f.year
		inv.Month = f.month
	}

	return inv, nil
}
