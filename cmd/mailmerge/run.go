// cmd/mailmerge/run.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mailmerge-workers/internal/app"
	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/ledger"
	"mailmerge-workers/internal/merge"
)

func runCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one merge pass over the recipients sheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.RunMerge(ctx)
				if err != nil {
					return err
				}
				printMergeReport(cmd, report)
				return nil
			})
		},
	}
}

func printMergeReport(cmd *cobra.Command, r *merge.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s finished in %s\n", r.RunID, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "  Sent:    %d\n", r.Sent)
	fmt.Fprintf(out, "  Failed:  %d\n", r.Failed)
	fmt.Fprintf(out, "  Skipped: %d\n", r.Skipped)
	if r.WriteFailures > 0 {
		fmt.Fprintf(out, "  Status cells not written: %d\n", r.WriteFailures)
	}
	for _, p := range r.Results {
		if p.Outcome.Status == merge.StatusFailed {
			fmt.Fprintf(out, "  row %d %s -> %s: %s\n", p.Row, p.Topic, p.Recipient, p.Outcome)
		}
	}
}

func ingestCmd(opts *rootOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Append new ledger transactions to the log sheet",
		Long: `Fetch transactions from the ledger API and append the ones not yet logged.

Without flags the cursor endpoint is used, which returns movements since the last fetch.
With --from and --to (YYYY-MM-DD, inclusive) the given period is fetched instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, period, err := parsePeriod(from, to)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var report *ledger.IngestReport
				if period {
					report, err = a.RunIngestPeriod(ctx, start, end)
				} else {
					report, err = a.RunIngest(ctx)
				}
				if err != nil {
					return err
				}
				printIngestReport(cmd, report)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day of the period (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last day of the period (YYYY-MM-DD)")
	return cmd
}

// parsePeriod requires both bounds or neither.
func parsePeriod(from, to string) (time.Time, time.Time, bool, error) {
	if from == "" && to == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, false, apperrors.NewInvalidInputError("period", "--from and --to go together")
	}
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, time.Time{}, false, apperrors.NewInvalidInputError("from", err.Error())
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return time.Time{}, time.Time{}, false, apperrors.NewInvalidInputError("to", err.Error())
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, false, apperrors.NewInvalidInputError("to", "end is before start")
	}
	return start, end, true, nil
}

func printIngestReport(cmd *cobra.Command, r *ledger.IngestReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ingest %s finished in %s\n", r.RunID, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "  Fetched:    %d\n", r.Fetched)
	fmt.Fprintf(out, "  Appended:   %d\n", r.Appended)
	fmt.Fprintf(out, "  Duplicates: %d\n", r.Duplicates)
	for _, tx := range r.Transactions {
		if tx.KeyCount > 0 {
			fmt.Fprintf(out, "  %s %s %s keys: %v\n", tx.Date.Format("2006-01-02"), tx.Amount.StringFixed(2), tx.Currency, tx.ParsedKeys)
		}
	}
}
