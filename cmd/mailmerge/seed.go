// cmd/mailmerge/seed.go
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mailmerge-workers/internal/app"
)

func seedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FIXTURE.yaml",
		Short: "Write sheets and templates from a YAML fixture into the configured stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixture, err := app.LoadFixture(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Seed(ctx, fixture)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d sheets (%d rows) and %d templates\n",
					report.Sheets, report.Rows, report.Templates)
				return nil
			})
		},
	}
}
