package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		limit int
		prune time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history [runID]",
		Short: "Show recent runs, or the scenarios of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.load()
			if err != nil {
				return err
			}
			svc := newService(c, newLogger(c))
			defer svc.Close()

			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			if prune > 0 {
				n, err := svc.Prune(ctx, prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "pruned %d records\n", n)
			}

			if len(args) == 1 {
				recs, err := svc.RunDetail(ctx, args[0])
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					return fmt.Errorf("no records for run %s", args[0])
				}
				for _, r := range recs {
					if r.Passed {
						passColor.Fprint(w, "PASS ")
					} else {
						failColor.Fprint(w, "FAIL ")
					}
					fmt.Fprintf(w, "%s ", r.Scenario)
					faintColor.Fprintf(w, "(%dms) observed %s\n", r.DurationMs, r.Observed)
					if r.Error != "" {
						fmt.Fprintf(w, "     %s\n", r.Error)
					}
				}
				return nil
			}

			sums, err := svc.History(ctx, limit)
			if err != nil {
				return err
			}
			for _, s := range sums {
				fmt.Fprintf(w, "%s  %2d/%-2d passed  %-8s  %s\n",
					s.RunID, s.Total-s.Failed, s.Total,
					s.Duration.Round(time.Millisecond), humanize.Time(s.StartedAt))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete records older than this first")
	return cmd
}
