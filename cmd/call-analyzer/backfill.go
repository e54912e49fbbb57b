package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"call_analyzer/internal/app"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Analyse recordings already in the input dir, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		application, err := app.New(cfg, logger)
		if err != nil {
			return err
		}
		defer application.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		application.Start(ctx)
		defer application.Orchestrator().Stop(context.Background())

		summary, err := application.Backfill(ctx)
		if err != nil {
			return err
		}
		if err := application.Drain(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backfill: total=%d already_processed=%d submitted=%d duplicates=%d rejected=%d\n",
			summary.TotalCandidates, summary.AlreadyProcessed, summary.Submitted, summary.Duplicates, summary.Rejected)
		return nil
	},
}
