package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/schedule-pipeline/internal/verifier"
)

func newVerifyCmd() *cobra.Command {
	var (
		startDate    string
		endDate      string
		executionIDs []string
		bucket       string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify scraped coverage for a date range or finished executions",
		Long: `Checks which dates in the window have a parsed day envelope in storage.
With --execution the verifier polls those executions to completion and unions
their per-date outcomes before falling back to the storage probe.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			req := verifier.Request{
				StartDate: startDate,
				EndDate:   endDate,
				Bucket:    bucket,
			}
			for _, id := range executionIDs {
				req.Executions = append(req.Executions, verifier.ExecutionRef{ID: id})
			}

			report, err := a.Verifier().Verify(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !report.Success {
				return fmt.Errorf("verification found %d missing days", len(report.MissingDays))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&startDate, "start", "", "window start (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&endDate, "end", "", "window end (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringArrayVar(&executionIDs, "execution", nil, "execution ID to poll (repeatable)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket override recorded in the report")

	return cmd
}
