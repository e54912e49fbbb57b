package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/events"
	"call_analyzer/internal/jobs"
	"call_analyzer/internal/metrics"
	"call_analyzer/internal/orchestrator"
	"call_analyzer/internal/store"
)

// observer fans job events out to metrics, the event bus and the run
// history. Store failures are logged and never reach the job.
type observer struct {
	store   *store.Store
	metrics *metrics.Metrics
	bus     *events.Bus[jobs.Transition]
	log     *slog.Logger
}

func (o *observer) Transition(t jobs.Transition) {
	o.metrics.Transition(t)
	o.bus.Publish(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.RecordTransition(ctx, t); err != nil {
		o.log.Warn("record transition", "call_id", t.CallID, "run_id", t.RunID, "err", err)
	}
}

func (o *observer) Report(job jobs.CallJob, r *analysis.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.SaveReport(ctx, job.RunID, r, time.Now().UTC()); err != nil {
		o.log.Warn("save report", "call_id", job.CallID, "run_id", job.RunID, "err", err)
	}
}

// countingSubmitter records submission outcomes for every ingress.
type countingSubmitter struct {
	*orchestrator.Orchestrator
	metrics *metrics.Metrics
}

func (c *countingSubmitter) Submit(callID string) (bool, error) {
	ok, err := c.Orchestrator.Submit(callID)
	c.count(ok, err)
	return ok, err
}

func (c *countingSubmitter) SubmitFile(ctx context.Context, path string) (bool, error) {
	ok, err := c.Orchestrator.SubmitFile(ctx, path)
	c.count(ok, err)
	return ok, err
}

func (c *countingSubmitter) count(ok bool, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrQueueFull), errors.Is(err, orchestrator.ErrStopped):
		c.metrics.Submitted("rejected")
	case err != nil:
		c.metrics.Submitted("invalid")
	case ok:
		c.metrics.Submitted("accepted")
	default:
		c.metrics.Submitted("duplicate")
	}
}
