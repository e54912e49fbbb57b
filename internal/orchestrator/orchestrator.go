// Package orchestrator runs the per-call state machine: dedup, polling for
// the recording, speech processing, analysis and reporting.
package orchestrator

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

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/crm"
	"call_analyzer/internal/jobs"
	"call_analyzer/internal/notify"
	"call_analyzer/internal/pipeline"
	"call_analyzer/internal/queue"
	"call_analyzer/internal/speech"

	"github.com/google/uuid"
)

var (
	ErrEmptyCallID = errors.New("empty call id")
	ErrQueueFull   = errors.New("call queue full")
	ErrStopped     = errors.New("orchestrator stopped")
)

const enqueueInterval = 100 * time.Millisecond

// CRM is the part of the CRM client the orchestrator consumes.
type CRM interface {
	FetchActivity(ctx context.Context, id string) (*crm.Activity, error)
	DownloadRecording(ctx context.Context, ref crm.RecordingRef) (string, error)
}

// Converter prepares a recording for the speech services. created reports
// whether path is a new file the job must delete.
type Converter interface {
	Convert(ctx context.Context, src string) (path string, created bool, err error)
}

// Observer receives every state transition and every finished report.
// Implementations must not block.
type Observer interface {
	Transition(t jobs.Transition)
	Report(job jobs.CallJob, r *analysis.Report)
}

// Options are the tunables of the state machine.
type Options struct {
	MaxRetry          int
	RetryDelay        time.Duration
	MinAudioBytes     int64
	RecordingPaths    []string
	RecordingURLPaths []string
	OwnerRules        []crm.OwnerRule
	CallProviders     []string
	// EnqueueWait bounds how long file submissions and poll retries wait
	// for room in a full queue. Webhook submissions never wait.
	EnqueueWait time.Duration
}

// Deps are the collaborators of an Orchestrator. Queue and Pipeline are
// required; the rest have usable defaults.
type Deps struct {
	CRM       CRM
	Pipeline  *pipeline.Pipeline
	Converter Converter
	Reports   notify.Sink
	Files     notify.Sink
	Queue     *queue.Queue
	Registry  *jobs.Registry
	Observer  Observer
	Logger    *slog.Logger
}

// Orchestrator accepts call ids and processes each at most once at a time.
type Orchestrator struct {
	opts     Options
	crm      CRM
	pipe     *pipeline.Pipeline
	conv     Converter
	reports  notify.Sink
	files    notify.Sink
	queue    *queue.Queue
	registry *jobs.Registry
	observer Observer
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	stopped bool
	waiting map[string]*waitingJob
}

// waitingJob is a CRM job between two polling attempts. It holds its
// registry entry but no worker.
type waitingJob struct {
	job   *jobs.CallJob
	timer *time.Timer
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.MaxRetry < 1 {
		opts.MaxRetry = 1
	}
	if len(opts.RecordingPaths) == 0 {
		opts.RecordingPaths = crm.DefaultRecordingPaths
	}
	if opts.RecordingURLPaths == nil {
		opts.RecordingURLPaths = crm.DefaultRecordingURLPaths
	}
	if len(opts.OwnerRules) == 0 {
		opts.OwnerRules = crm.DefaultOwnerRules
	}
	if len(opts.CallProviders) == 0 {
		opts.CallProviders = crm.DefaultCallProviders
	}
	o := &Orchestrator{
		opts:     opts,
		crm:      deps.CRM,
		pipe:     deps.Pipeline,
		conv:     deps.Converter,
		reports:  deps.Reports,
		files:    deps.Files,
		queue:    deps.Queue,
		registry: deps.Registry,
		observer: deps.Observer,
		log:      deps.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      context.Background(),
		waiting:  make(map[string]*waitingJob),
	}
	if o.conv == nil {
		o.conv = speech.Converter{}
	}
	if o.registry == nil {
		o.registry = jobs.NewRegistry()
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// Start launches the worker pool.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()
	o.queue.Start(ctx)
}

// Stop stops accepting calls, fails calls waiting for their next poll, and
// waits for running jobs until ctx is done. Calls still queued end Failed
// with reason canceled.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	o.stopped = true
	waiting := o.waiting
	o.waiting = make(map[string]*waitingJob)
	o.mu.Unlock()

	for _, w := range waiting {
		w.timer.Stop()
		o.finish(w.job, outcome{state: jobs.StateFailed, reason: jobs.ReasonCanceled, msg: "shutdown while waiting for recording"})
	}
	o.queue.Stop(ctx)
}

// Healthy reports whether the worker pool accepts jobs.
func (o *Orchestrator) Healthy() bool { return o.queue.Healthy() }

// Active counts the calls currently held, queued or waiting for a poll.
func (o *Orchestrator) Active() int { return o.registry.Len() }

// InFlight lists the calls currently being processed.
func (o *Orchestrator) InFlight() []jobs.Entry { return o.registry.Snapshot() }

// QueueStats exposes the worker pool counters.
func (o *Orchestrator) QueueStats() queue.Stats { return o.queue.Stats() }

// Submit schedules processing of a CRM activity. It returns false without
// error when the call is already in flight, ErrQueueFull when the pool
// cannot take more work and ErrStopped during shutdown.
func (o *Orchestrator) Submit(callID string) (bool, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return false, ErrEmptyCallID
	}
	return o.submit(context.Background(), &jobs.CallJob{CallID: callID, Source: jobs.SourceCRM}, 0)
}

// SubmitFile schedules analysis of a local recording. The call id is the
// file name without extension. The source file is never deleted. When the
// queue is full it waits up to EnqueueWait for room.
func (o *Orchestrator) SubmitFile(ctx context.Context, path string) (bool, error) {
	base := filepath.Base(path)
	callID := strings.TrimSuffix(base, filepath.Ext(base))
	if callID == "" || callID == "." {
		return false, ErrEmptyCallID
	}
	return o.submit(ctx, &jobs.CallJob{CallID: callID, Source: jobs.SourceFile, Path: path}, o.opts.EnqueueWait)
}

func (o *Orchestrator) submit(ctx context.Context, job *jobs.CallJob, wait time.Duration) (bool, error) {
	job.RunID = uuid.NewString()
	job.CreatedAt = o.now()
	if !o.registry.Acquire(job.CallID, job.RunID) {
		o.log.Info("call already in flight", "call_id", job.CallID)
		return false, nil
	}
	o.transition(job, jobs.StatePending, jobs.ReasonNone, "submitted")

	switch reason := o.enqueue(ctx, job, wait); reason {
	case jobs.ReasonNone:
		return true, nil
	case jobs.ReasonCanceled:
		o.finish(job, outcome{state: jobs.StateFailed, reason: reason, msg: "not accepted while stopping"})
		return false, ErrStopped
	default:
		o.finish(job, outcome{state: jobs.StateFailed, reason: reason, msg: "rejected by worker pool"})
		return false, ErrQueueFull
	}
}

// enqueue hands job to the worker pool, waiting up to wait for room, and
// returns the failure reason when it could not.
func (o *Orchestrator) enqueue(ctx context.Context, job *jobs.CallJob, wait time.Duration) jobs.Reason {
	qj := queue.Job{
		ID:     job.CallID,
		Source: string(job.Source),
		Work:   func(ctx context.Context) error { return o.process(ctx, job, true) },
		OnDrop: func() {
			o.finish(job, outcome{state: jobs.StateFailed, reason: jobs.ReasonCanceled, msg: "dropped at shutdown"})
		},
	}
	var ok bool
	if wait > 0 {
		ok, _ = o.queue.EnqueueWithRetry(ctx, qj, wait, enqueueInterval)
	} else {
		ok = o.queue.Enqueue(qj)
	}
	switch {
	case ok:
		return jobs.ReasonNone
	case o.isStopped() || ctx.Err() != nil:
		return jobs.ReasonCanceled
	default:
		return jobs.ReasonQueueFull
	}
}

// schedule parks job until its next polling attempt. It returns false once
// the orchestrator is stopping.
func (o *Orchestrator) schedule(job *jobs.CallJob) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	runID := job.RunID
	o.waiting[runID] = &waitingJob{job: job, timer: time.AfterFunc(o.opts.RetryDelay, func() { o.resume(runID) })}
	return true
}

// resume puts a parked job back on the queue for its next attempt.
func (o *Orchestrator) resume(runID string) {
	o.mu.Lock()
	w, ok := o.waiting[runID]
	delete(o.waiting, runID)
	ctx := o.ctx
	o.mu.Unlock()
	if !ok {
		return
	}
	if reason := o.enqueue(ctx, w.job, o.opts.EnqueueWait); reason != jobs.ReasonNone {
		o.finish(w.job, outcome{state: jobs.StateFailed, reason: reason, msg: fmt.Sprintf("poll attempt %d not scheduled", w.job.Attempts+1)})
	}
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

// Process runs one job synchronously on the calling goroutine, honouring the
// same dedup registry as Submit. Polling sleeps on the caller.
func (o *Orchestrator) Process(ctx context.Context, callID string) (jobs.CallJob, error) {
	job := &jobs.CallJob{CallID: strings.TrimSpace(callID), Source: jobs.SourceCRM, RunID: uuid.NewString(), CreatedAt: o.now()}
	if job.CallID == "" {
		return *job, ErrEmptyCallID
	}
	if !o.registry.Acquire(job.CallID, job.RunID) {
		return *job, fmt.Errorf("call %s already in flight", job.CallID)
	}
	o.transition(job, jobs.StatePending, jobs.ReasonNone, "submitted")
	err := o.process(ctx, job, false)
	return *job, err
}

// outcome is the terminal state a job will be moved to once its resources
// are released.
type outcome struct {
	state  jobs.State
	reason jobs.Reason
	msg    string
}

// process runs one step of job. With scheduled set, a CRM job whose
// recording is not ready yet is parked for its next attempt and the worker
// is returned; otherwise polling sleeps in place. Every other path ends in
// exactly one terminal transition.
func (o *Orchestrator) process(ctx context.Context, job *jobs.CallJob, scheduled bool) error {
	var artifacts []string
	var end outcome
	parked := false
	defer func() {
		for _, p := range artifacts {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				o.log.Warn("remove audio artifact", "call_id", job.CallID, "path", p, "error", rmErr)
			}
		}
		if parked {
			return
		}
		if end.state == "" {
			end = outcome{state: jobs.StateFailed, reason: jobs.ReasonInternal, msg: "aborted"}
			if ctx.Err() != nil {
				end.reason = jobs.ReasonCanceled
			}
		}
		o.finish(job, end)
	}()

	var activity *crm.Activity
	audio := job.Path
	callType := crm.CallUnknown

	if job.Source == jobs.SourceCRM {
		if job.Attempts == 0 {
			o.transition(job, jobs.StatePolling, jobs.ReasonNone, "")
		}
		var act *crm.Activity
		var ref crm.RecordingRef
		for {
			var ready bool
			var err error
			act, ref, ready, err = o.pollOnce(ctx, job)
			if err != nil {
				end, err = classify(err)
				return err
			}
			if ready {
				break
			}
			if scheduled {
				if parked = o.schedule(job); parked {
					return nil
				}
				end = outcome{state: jobs.StateFailed, reason: jobs.ReasonCanceled, msg: "shutdown while waiting for recording"}
				return ErrStopped
			}
			if err := sleep(ctx, o.opts.RetryDelay); err != nil {
				end, err = classify(err)
				return err
			}
		}
		activity, callType = act, act.CallType()

		o.transition(job, jobs.StateDownloading, jobs.ReasonNone, ref.FileID)
		path, err := o.crm.DownloadRecording(ctx, ref)
		if path != "" {
			artifacts = append(artifacts, path)
		}
		if err != nil {
			end, err = classify(jobs.Fail(jobs.ReasonAudioUnavailable, err, "download %s", ref.FileID))
			return err
		}
		audio = path
	} else {
		o.transition(job, jobs.StateDownloading, jobs.ReasonNone, job.Path)
	}

	if err := o.checkAudio(audio); err != nil {
		end, err = classify(err)
		return err
	}
	converted, created, err := o.conv.Convert(ctx, audio)
	if created {
		artifacts = append(artifacts, converted)
	}
	if err != nil {
		end, err = classify(jobs.Fail(jobs.ReasonAudioUnavailable, err, "convert %s", filepath.Base(audio)))
		return err
	}
	audio = converted

	o.transition(job, jobs.StateTranscribing, jobs.ReasonNone, "")
	words, err := o.pipe.Transcribe(ctx, audio)
	degraded := jobs.ReasonNone
	if err != nil {
		if ctx.Err() != nil {
			end, err = classify(ctx.Err())
			return err
		}
		o.log.Warn("transcription failed, continuing with empty text", "call_id", job.CallID, "run_id", job.RunID, "error", err)
		words, degraded = nil, jobs.ReasonTranscriptionDegraded
	}

	o.transition(job, jobs.StateDiarizing, degraded, "")
	diar, err := o.pipe.Diarize(ctx, audio)
	if err != nil {
		if ctx.Err() != nil {
			end, err = classify(ctx.Err())
			return err
		}
		o.log.Warn("diarization failed, treating call as one speaker", "call_id", job.CallID, "run_id", job.RunID, "error", err)
		diar = speech.Diarization{}
	}

	o.transition(job, jobs.StateAnalyzing, jobs.ReasonNone, "")
	report := o.pipe.Analyze(pipeline.Call{ID: job.CallID, Type: callType}, words, diar)
	o.observer.Report(*job, report)

	o.transition(job, jobs.StateReporting, jobs.ReasonNone, "")
	reason := o.deliver(ctx, job, activity, report)
	if reason == jobs.ReasonNone {
		reason = degraded
	}
	end = outcome{state: jobs.StateDone, reason: reason}
	return nil
}

// pollOnce makes one attempt at fetching the activity with its recording
// reference. ready is false when another attempt is due.
func (o *Orchestrator) pollOnce(ctx context.Context, job *jobs.CallJob) (act *crm.Activity, ref crm.RecordingRef, ready bool, err error) {
	job.Attempts++
	attempt := job.Attempts
	act, err = o.crm.FetchActivity(ctx, job.CallID)
	switch {
	case err == nil:
		if !act.IsCall(o.opts.CallProviders) {
			return nil, ref, false, jobs.Fail(jobs.ReasonNotACallEvent, nil, "activity type %q provider %q", act.Get("TYPE_ID"), act.Get("PROVIDER_ID"))
		}
		if r, ok := act.Recording(o.opts.RecordingPaths, o.opts.RecordingURLPaths); ok {
			return act, r, true, nil
		}
		o.log.Info("recording not ready", "call_id", job.CallID, "run_id", job.RunID, "attempt", attempt, "max", o.opts.MaxRetry)
	case errors.Is(err, crm.ErrNotFound):
		o.log.Info("activity not found yet", "call_id", job.CallID, "run_id", job.RunID, "attempt", attempt)
	default:
		if ctx.Err() != nil {
			return nil, ref, false, ctx.Err()
		}
		o.log.Warn("fetch activity", "call_id", job.CallID, "run_id", job.RunID, "attempt", attempt, "error", err)
	}
	if attempt >= o.opts.MaxRetry {
		return nil, ref, false, jobs.Fail(jobs.ReasonRecordingNotReady, nil, "no recording after %d attempts", o.opts.MaxRetry)
	}
	return nil, ref, false, nil
}

func (o *Orchestrator) checkAudio(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return jobs.Fail(jobs.ReasonAudioUnavailable, err, "stat %s", filepath.Base(path))
	}
	if info.Size() < o.opts.MinAudioBytes {
		return jobs.Fail(jobs.ReasonAudioUnavailable, nil, "%s is %d bytes, want at least %d", filepath.Base(path), info.Size(), o.opts.MinAudioBytes)
	}
	return nil
}

// deliver hands the report to the sink matching the job source and returns
// the non-fatal outcome, if any.
func (o *Orchestrator) deliver(ctx context.Context, job *jobs.CallJob, activity *crm.Activity, report *analysis.Report) jobs.Reason {
	var sink notify.Sink
	var d notify.Delivery
	d.Report = report
	if job.Source == jobs.SourceFile {
		sink = o.files
	} else {
		owner, ok := activity.Owner(o.opts.OwnerRules)
		if !ok {
			o.log.Info("owner unresolved, report omitted", "call_id", job.CallID, "run_id", job.RunID)
			return jobs.ReasonOwnerUnresolved
		}
		sink, d.Owner = o.reports, owner
	}
	if sink == nil {
		return jobs.ReasonNone
	}
	if err := sink.Deliver(ctx, d); err != nil {
		o.log.Error("deliver report", "call_id", job.CallID, "run_id", job.RunID, "owner_type", d.Owner.TypeID, "owner_id", d.Owner.ID, "error", err)
		return jobs.ReasonReportUndelivered
	}
	o.log.Info("report delivered", "call_id", job.CallID, "run_id", job.RunID, "owner_type", d.Owner.TypeID, "owner_id", d.Owner.ID)
	return jobs.ReasonNone
}

// classify maps err to the terminal outcome of a job. A job that turned out
// not to be a call ends Done without error.
func classify(err error) (outcome, error) {
	var jerr *jobs.Error
	switch {
	case errors.As(err, &jerr) && jerr.Reason == jobs.ReasonNotACallEvent:
		return outcome{state: jobs.StateDone, reason: jerr.Reason, msg: jerr.Message}, nil
	case errors.As(err, &jerr):
		return outcome{state: jobs.StateFailed, reason: jerr.Reason, msg: jerr.Error()}, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcome{state: jobs.StateFailed, reason: jobs.ReasonCanceled, msg: err.Error()}, err
	default:
		return outcome{state: jobs.StateFailed, reason: jobs.ReasonInternal, msg: err.Error()}, err
	}
}

// finish emits the terminal transition and releases the call.
func (o *Orchestrator) finish(job *jobs.CallJob, end outcome) {
	o.transition(job, end.state, end.reason, end.msg)
	o.registry.Release(job.CallID)
}

func (o *Orchestrator) transition(job *jobs.CallJob, to jobs.State, reason jobs.Reason, msg string) {
	from := job.State
	job.State = to
	if reason != jobs.ReasonNone {
		job.Reason = reason
	}
	o.registry.SetState(job.CallID, to)

	attrs := []any{"call_id", job.CallID, "run_id", job.RunID, "from", from, "to", to, "attempts", job.Attempts}
	if reason != jobs.ReasonNone {
		attrs = append(attrs, "reason", reason)
	}
	if msg != "" {
		attrs = append(attrs, "detail", msg)
	}
	level := slog.LevelInfo
	if to == jobs.StateFailed {
		level = slog.LevelWarn
	}
	o.log.Log(context.Background(), level, "job transition", attrs...)

	o.observer.Transition(jobs.Transition{
		CallID:   job.CallID,
		RunID:    job.RunID,
		Source:   job.Source,
		From:     from,
		To:       to,
		Reason:   reason,
		Attempts: job.Attempts,
		Message:  msg,
		At:       o.now(),
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) Transition(jobs.Transition)             {}
func (nopObserver) Report(jobs.CallJob, *analysis.Report) {}
