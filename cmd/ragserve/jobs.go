package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/ragserve/internal/config"
	"github.com/seantiz/ragserve/internal/engine"
	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/store"
)

func newJobsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and prune async jobs",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.GetJobStats(context.Background())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			for _, status := range []string{model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusFailed} {
				fmt.Fprintf(w, "%s\t%d\n", status, stats.CountByStatus[status])
			}
			fmt.Fprintf(w, "total\t%d\n", stats.Total)
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("Avg duration: %.0fms\n", stats.AvgDurationMS)
			return nil
		},
	}

	reapCmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete finished jobs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := config.NewLogger(os.Stderr, cfg.Level())

			st, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			// Interval is irrelevant for a single pass.
			r := engine.NewReaper(st, nil, cfg.Jobs.Retention, 0, logger, nil)
			n, err := r.ReapOnce(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d finished jobs older than %s.\n", n, cfg.Jobs.Retention)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, reapCmd)
	return cmd
}
