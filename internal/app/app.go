// Package app wires the service components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/config"
	"call_analyzer/internal/crm"
	"call_analyzer/internal/events"
	"call_analyzer/internal/httpapi"
	"call_analyzer/internal/jobs"
	"call_analyzer/internal/metrics"
	"call_analyzer/internal/notify"
	"call_analyzer/internal/orchestrator"
	"call_analyzer/internal/pipeline"
	"call_analyzer/internal/queue"
	"call_analyzer/internal/scripts"
	"call_analyzer/internal/speech"
	"call_analyzer/internal/store"
	"call_analyzer/internal/transcript"
	"call_analyzer/internal/watch"
)

// App wires the data plane components together.
type App struct {
	cfg     config.Config
	log     *slog.Logger
	store   *store.Store
	bus     *events.Bus[jobs.Transition]
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
	sub     *countingSubmitter
	watcher *watch.Watcher
	handler http.Handler
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{cfg.WorkDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	pipe, err := BuildPipeline(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     logger,
		store:   st,
		bus:     events.NewBus[jobs.Transition](64),
		metrics: metrics.New(),
	}

	if cfg.CRM.WebhookURL == "" {
		logger.Warn("BITRIX_WEBHOOK_URL not set, CRM calls will fail to poll")
	}
	client := crm.NewClient(crm.Options{
		WebhookURL:   cfg.CRM.WebhookURL,
		AudioBaseURL: cfg.CRM.AudioBaseURL,
		DownloadDir:  cfg.WorkDir,
		Timeout:      cfg.CRM.Timeout,
	})
	chat := notify.ChatSink{URL: cfg.GroupMe.URL, BotID: cfg.GroupMe.BotID}

	a.orch = orchestrator.New(orchestrator.Deps{
		CRM:       client,
		Pipeline:  pipe,
		Converter: speech.Converter{Bin: cfg.FFMPEGBin, Enabled: cfg.ConvertAudio, WorkDir: cfg.WorkDir},
		Reports:   notify.Multi{notify.CommentSink{Poster: client}, chat},
		Files:     notify.Multi{notify.FileSink{Dir: cfg.OutputDir}, chat},
		Queue:     queue.New(cfg.QueueSize, cfg.WorkerCount, cfg.JobTimeout, logger),
		Registry:  jobs.NewRegistry(),
		Observer:  &observer{store: st, metrics: a.metrics, bus: a.bus, log: logger},
		Logger:    logger,
	}, orchestrator.Options{
		MaxRetry:          cfg.MaxRetry,
		RetryDelay:        cfg.RetryDelay,
		MinAudioBytes:     cfg.MinAudioBytes,
		RecordingPaths:    cfg.CRM.RecordingPaths,
		RecordingURLPaths: cfg.CRM.RecordingURLPaths,
		OwnerRules:        ownerRules(cfg.CRM.OwnerPaths),
		CallProviders:     cfg.CRM.CallProviders,
		EnqueueWait:       cfg.EnqueueWait,
	})
	a.sub = &countingSubmitter{Orchestrator: a.orch, metrics: a.metrics}

	if cfg.EnableWatcher {
		a.watcher = watch.New(a.sub, watch.Options{Dir: cfg.InputDir, Logger: logger})
	}

	router := httpapi.NewRouter(a.sub, st, a.bus, httpapi.Options{
		AppToken:      cfg.CRM.AppToken,
		Events:        cfg.CRM.Events,
		CallProviders: cfg.CRM.CallProviders,
		Metrics:       promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}),
	}, logger)
	a.handler = router.Handler()
	return a, nil
}

// Run starts workers, watcher, and HTTP server, and blocks until ctx is
// canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.orch.Start(ctx)
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return err
		}
		go func() {
			if _, err := a.Backfill(ctx); err != nil {
				a.log.Warn("backfill failed", "err", err)
			}
		}()
	}
	go a.sampleQueue(ctx)

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http listening", "addr", a.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.orch.Stop(shutdownCtx)
	if a.watcher != nil {
		a.watcher.Wait()
	}
	return runErr
}

func (a *App) sampleQueue(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		stats := a.orch.QueueStats()
		a.metrics.SetQueue(stats.Length, int(stats.Busy), a.orch.Active())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Backfill submits recordings already present in the input dir, skipping
// calls whose last run finished Done.
func (a *App) Backfill(ctx context.Context) (watch.Summary, error) {
	w := a.watcher
	if w == nil {
		w = watch.New(a.sub, watch.Options{Dir: a.cfg.InputDir, Logger: a.log})
	}
	return w.Backfill(ctx, a.store, a.cfg.BackfillLimit)
}

// Drain blocks until no call is in flight.
func (a *App) Drain(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for a.orch.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (a *App) Close() error { return a.store.Close() }

func (a *App) Handler() http.Handler                    { return a.handler }
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }
func (a *App) Store() *store.Store                      { return a.store }
func (a *App) Events() *events.Bus[jobs.Transition]     { return a.bus }

// Start launches the worker pool without the HTTP server, for one-shot use.
func (a *App) Start(ctx context.Context) { a.orch.Start(ctx) }

// BuildPipeline assembles the speech and analysis stages from cfg.
func BuildPipeline(cfg config.Config, logger *slog.Logger) (*pipeline.Pipeline, error) {
	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("script catalog loaded", "scripts", catalog.Len())
	var transcriber speech.Transcriber = speech.NopTranscriber{}
	if cfg.Speech.TranscriberURL != "" {
		transcriber = speech.NewHTTPTranscriber(cfg.Speech.TranscriberURL, cfg.Speech.Language, cfg.Speech.Timeout)
	} else {
		logger.Warn("TRANSCRIBER_URL not set, transcripts will be degraded")
	}
	diarizer := &speech.FallbackDiarizer{Logger: logger}
	if cfg.Speech.DiarizerURL != "" {
		diarizer.Primary = speech.NewHTTPDiarizer(cfg.Speech.DiarizerURL, cfg.Speech.Timeout)
	}
	return pipeline.New(pipeline.Options{
		Transcriber: transcriber,
		Diarizer:    diarizer,
		Roles:       transcript.NewRoleAssigner(cfg.Analysis.AutoresponderPhrases),
		Analyzer: analysis.New(catalog, analysis.Options{
			Keywords:            cfg.Analysis.Keywords,
			PolitenessWords:     cfg.Analysis.PolitenessWords,
			PromisePhrases:      cfg.Analysis.PromisePhrases,
			MinInformativeWords: cfg.Analysis.MinInformativeWords,
		}),
		TranscriptionLock: semaphore.NewWeighted(1),
		StageTimeout:      cfg.StageTimeout,
	}), nil
}

// LoadCatalog reads the scripts file, or builds a single "required" script
// from the inline phrase list.
func LoadCatalog(cfg config.Config) (*scripts.Catalog, error) {
	switch {
	case cfg.Analysis.ScriptsFile != "":
		c, err := scripts.Load(cfg.Analysis.ScriptsFile)
		if err != nil {
			return nil, fmt.Errorf("load scripts: %w", err)
		}
		return c, nil
	case cfg.Analysis.RequiredPhrases != "":
		return scripts.FromPhraseList("required", cfg.Analysis.RequiredPhrases)
	default:
		return scripts.New()
	}
}

func ownerRules(paths []config.OwnerPath) []crm.OwnerRule {
	if len(paths) == 0 {
		return nil
	}
	out := make([]crm.OwnerRule, len(paths))
	for i, p := range paths {
		out[i] = crm.OwnerRule{Type: p.Type, ID: p.ID}
	}
	return out
}
