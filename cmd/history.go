package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/LiboWorks/screenflow/internal/config"
	"github.com/LiboWorks/screenflow/internal/observability"
	"github.com/LiboWorks/screenflow/internal/record"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the record database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			if cfg.Records.DSN == "" {
				return errors.New("records.dsn is not configured")
			}
			sink, err := record.Open(cmd.Context(), cfg.Records.Driver, cfg.Records.DSN, observability.GetLogger())
			if err != nil {
				return err
			}
			defer sink.Close()

			runs, err := sink.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			writeRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func writeRuns(out io.Writer, runs []record.Run) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tINSTANCE\tSCENARIO\tSTATUS\tWARNINGS\tDURATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Instance, r.Scenario, r.Status,
			r.Warnings, r.Duration.Round(time.Millisecond), r.Error)
	}
	w.Flush()
}
