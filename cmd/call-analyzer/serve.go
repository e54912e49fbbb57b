package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"call_analyzer/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook service",
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
		return application.Run(ctx)
	},
}
