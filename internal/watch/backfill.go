package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"call_analyzer/internal/jobs"
	"call_analyzer/internal/store"
)

// Record is a recording found in the input dir.
type Record struct {
	Path      string
	CallID    string
	ModTime   time.Time
	SizeBytes int64
	State     jobs.State
}

// Summary captures backfill execution metrics.
type Summary struct {
	TotalCandidates  int `json:"total"`
	AlreadyProcessed int `json:"already_processed"`
	Selected         int `json:"selected"`
	Submitted        int `json:"submitted"`
	Duplicates       int `json:"duplicates"`
	Rejected         int `json:"rejected"`
}

// History tells whether a call already has a finished run.
type History interface {
	GetCall(ctx context.Context, callID string) (*store.Call, error)
}

// SelectPending returns up to limit records, newest first, skipping calls
// whose last run ended Done. A limit <= 0 means no limit.
func SelectPending(records []Record, limit int) ([]Record, Summary) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ModTime.After(records[j].ModTime)
	})

	summary := Summary{TotalCandidates: len(records)}
	pending := make([]Record, 0, len(records))
	for _, r := range records {
		if r.State == jobs.StateDone {
			summary.AlreadyProcessed++
			continue
		}
		pending = append(pending, r)
	}
	if limit > 0 && limit < len(pending) {
		pending = pending[:limit]
	}
	summary.Selected = len(pending)
	return pending, summary
}

// Candidates lists audio files in dir along with their last known state.
func Candidates(ctx context.Context, dir string, history History) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, e := range entries {
		if e.IsDir() || !IsAudio(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rec := Record{
			Path:      filepath.Join(dir, e.Name()),
			CallID:    strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			ModTime:   info.ModTime(),
			SizeBytes: info.Size(),
		}
		if history != nil {
			call, err := history.GetCall(ctx, rec.CallID)
			if err != nil {
				return nil, err
			}
			if call != nil {
				rec.State = call.State
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Backfill submits recordings already present in the input dir.
func (w *Watcher) Backfill(ctx context.Context, history History, limit int) (Summary, error) {
	records, err := Candidates(ctx, w.opts.Dir, history)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Summary{}, nil
		}
		return Summary{}, err
	}
	selected, summary := SelectPending(records, limit)
	for _, rec := range selected {
		if ctx.Err() != nil {
			break
		}
		accepted, err := w.sub.SubmitFile(ctx, rec.Path)
		switch {
		case err != nil:
			summary.Rejected++
			w.log.Warn("backfill submit failed", "call_id", rec.CallID, "err", err)
		case accepted:
			summary.Submitted++
		default:
			summary.Duplicates++
		}
	}
	w.log.Info("backfill summary",
		"total", summary.TotalCandidates,
		"already_processed", summary.AlreadyProcessed,
		"selected", summary.Selected,
		"submitted", summary.Submitted,
		"duplicates", summary.Duplicates,
		"rejected", summary.Rejected)
	return summary, nil
}
