// Package watch ingests recordings dropped into a folder.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Submitter schedules a local recording for analysis.
type Submitter interface {
	SubmitFile(ctx context.Context, path string) (bool, error)
}

type Options struct {
	Dir string
	// StableInterval and StableChecks decide when a file stopped growing.
	StableInterval time.Duration
	StableChecks   int
	Logger         *slog.Logger
}

// Watcher monitors Dir for new audio files and submits them.
type Watcher struct {
	sub  Submitter
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

func New(sub Submitter, opts Options) *Watcher {
	if opts.StableInterval <= 0 {
		opts.StableInterval = 2 * time.Second
	}
	if opts.StableChecks <= 0 {
		opts.StableChecks = 2
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{sub: sub, opts: opts, log: logger.With("component", "watch"), pending: make(map[string]struct{})}
}

// Start begins watching and returns once the directory is registered. The
// watch ends when ctx is canceled; Wait blocks until it has.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create input dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.opts.Dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}
	w.log.Info("watching input dir", "dir", w.opts.Dir)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-fw.Events:
				if !ok {
					return
				}
				if evt.Op&fsnotify.Create != 0 && IsAudio(evt.Name) {
					w.handle(ctx, evt.Name)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warn("watcher error", "err", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) Wait() { w.wg.Wait() }

func (w *Watcher) handle(ctx context.Context, path string) {
	w.mu.Lock()
	if _, busy := w.pending[path]; busy {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}()
		if err := waitForStableSize(ctx, path, w.opts.StableInterval, w.opts.StableChecks); err != nil {
			if !errors.Is(err, context.Canceled) {
				w.log.Warn("file never settled", "path", path, "err", err)
			}
			return
		}
		accepted, err := w.sub.SubmitFile(ctx, path)
		if err != nil {
			w.log.Warn("submit failed", "path", path, "err", err)
			return
		}
		w.log.Info("file submitted", "path", path, "accepted", accepted)
	}()
}

// IsAudio reports whether path has a recording extension.
func IsAudio(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".wav", ".m4a", ".aac", ".flac", ".ogg", ".opus":
		return true
	default:
		return false
	}
}

// waitForStableSize returns once the file size is non-zero and unchanged
// for required consecutive checks.
func waitForStableSize(ctx context.Context, path string, interval time.Duration, required int) error {
	var last int64 = -1
	stable := 0
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat: %w", err)
		}
		size := info.Size()
		if size > 0 && size == last {
			stable++
			if stable >= required {
				return nil
			}
		} else {
			stable = 0
		}
		last = size
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
