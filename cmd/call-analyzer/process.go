package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"call_analyzer/internal/app"
)

var processCmd = &cobra.Command{
	Use:   "process <activity-id>",
	Short: "Process one CRM call activity synchronously",
	Args:  cobra.ExactArgs(1),
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
		job, err := application.Orchestrator().Process(ctx, args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "call %s: %s %s\n", job.CallID, job.State, job.Reason)
		return err
	},
}
