package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"call_analyzer/internal/config"
	"call_analyzer/internal/logging"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "call-analyzer",
	Short: "Transcribe, diarize and score sales calls",
	Long: `call-analyzer turns call recordings into a dialogue transcript and a
script-adherence report.

Configuration comes from config.yaml (CONFIG_FILE), .env and the environment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(serveCmd, analyzeCmd, processCmd, backfillCmd, scriptsCmd)
}

// setup loads the configuration and builds the logger.
func setup() (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, nil, err
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, closer := logging.New(logging.Options{
		Level:       level,
		Environment: cfg.Environment,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}
