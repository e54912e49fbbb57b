package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"call_analyzer/internal/app"
	"call_analyzer/internal/config"
	"call_analyzer/internal/crm"
	"call_analyzer/internal/notify"
	"call_analyzer/internal/pipeline"
	"call_analyzer/internal/speech"
)

var (
	analyzeJSON   bool
	analyzeOutDir string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyse one local recording and print the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runAnalyze(ctx, cfg, logger, args[0], cmd.OutOrStdout())
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the report as JSON")
	analyzeCmd.Flags().StringVarP(&analyzeOutDir, "out", "o", "", "also write transcript and summary files to this directory")
}

func runAnalyze(ctx context.Context, cfg config.Config, logger *slog.Logger, path string, out io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	pipe, err := app.BuildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "call-analyzer-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	conv := speech.Converter{Bin: cfg.FFMPEGBin, Enabled: cfg.ConvertAudio, WorkDir: tmp}
	audio, _, err := conv.Convert(ctx, path)
	if err != nil {
		return err
	}

	base := filepath.Base(path)
	call := pipeline.Call{ID: strings.TrimSuffix(base, filepath.Ext(base)), Type: crm.CallUnknown}
	res, err := pipe.Run(ctx, call, audio)
	if err != nil {
		return err
	}
	if res.TranscriptionError != nil {
		logger.Warn("transcription degraded", "err", res.TranscriptionError)
	}

	if analyzeOutDir != "" {
		if err := os.MkdirAll(analyzeOutDir, 0o755); err != nil {
			return err
		}
		if err := (notify.FileSink{Dir: analyzeOutDir}).Deliver(ctx, notify.Delivery{Report: res.Report}); err != nil {
			return err
		}
	}

	if analyzeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Report)
	}
	_, err = fmt.Fprintln(out, notify.FormatComment(res.Report))
	return err
}
