// Package pipeline runs the speech and analysis stages over one recording.
package pipeline

import (
	"context"
	"time"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/speech"
	"call_analyzer/internal/transcript"

	"golang.org/x/sync/semaphore"
)

// Options wires the collaborators of a Pipeline.
type Options struct {
	Transcriber speech.Transcriber
	Diarizer    speech.Diarizer
	Roles       *transcript.RoleAssigner
	Analyzer    *analysis.Analyzer
	// TranscriptionLock serialises transcription. Share one lock across
	// every pipeline of the process; nil creates a private one.
	TranscriptionLock *semaphore.Weighted
	// StageTimeout bounds each transcription and diarization call. Zero
	// disables it.
	StageTimeout time.Duration
}

// Pipeline turns a recording into an analysis report.
type Pipeline struct {
	transcriber speech.Transcriber
	diarizer    speech.Diarizer
	roles       *transcript.RoleAssigner
	analyzer    *analysis.Analyzer
	lock        *semaphore.Weighted
	timeout     time.Duration
}

func New(opts Options) *Pipeline {
	p := &Pipeline{
		transcriber: opts.Transcriber,
		diarizer:    opts.Diarizer,
		roles:       opts.Roles,
		analyzer:    opts.Analyzer,
		lock:        opts.TranscriptionLock,
		timeout:     opts.StageTimeout,
	}
	if p.transcriber == nil {
		p.transcriber = speech.NopTranscriber{}
	}
	if p.diarizer == nil {
		p.diarizer = &speech.FallbackDiarizer{}
	}
	if p.roles == nil {
		p.roles = transcript.NewRoleAssigner(nil)
	}
	if p.analyzer == nil {
		p.analyzer = analysis.New(nil, analysis.Options{})
	}
	if p.lock == nil {
		p.lock = semaphore.NewWeighted(1)
	}
	return p
}

// Transcribe runs the transcriber while holding the process-wide lock. Only
// a canceled context is reported as the caller's problem; any other failure
// comes back as an error the caller may treat as degraded.
func (p *Pipeline) Transcribe(ctx context.Context, audioPath string) ([]transcript.Segment, error) {
	if err := p.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.lock.Release(1)

	ctx, cancel := p.stageContext(ctx)
	defer cancel()
	return p.transcriber.TranscribeSegments(ctx, audioPath)
}

// Diarize runs without any cross-job serialisation.
func (p *Pipeline) Diarize(ctx context.Context, audioPath string) (speech.Diarization, error) {
	ctx, cancel := p.stageContext(ctx)
	defer cancel()
	return p.diarizer.Diarize(ctx, audioPath)
}

// Call describes the recording being analysed.
type Call struct {
	ID   string
	Type string
}

// Analyze aligns both timelines, assigns roles and builds the report.
func (p *Pipeline) Analyze(call Call, words []transcript.Segment, diar speech.Diarization) *analysis.Report {
	duration := max(diar.Duration, transcript.End(diar.Segments), transcript.End(words))
	aligned := transcript.Align(diar.Segments, words, duration)
	labelled := p.roles.Assign(aligned, words)
	return p.analyzer.Analyze(analysis.Input{
		CallID:   call.ID,
		CallType: call.Type,
		Duration: duration,
		Segments: labelled,
		FullText: transcript.FullText(words),
	})
}

// Result is the outcome of Run.
type Result struct {
	Report             *analysis.Report
	TranscriptionError error
}

// Run executes every stage back to back. A transcription failure yields a
// report built from empty text; diarization errors are returned.
func (p *Pipeline) Run(ctx context.Context, call Call, audioPath string) (Result, error) {
	words, terr := p.Transcribe(ctx, audioPath)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if terr != nil {
		words = nil
	}
	diar, err := p.Diarize(ctx, audioPath)
	if err != nil {
		return Result{}, err
	}
	return Result{Report: p.Analyze(call, words, diar), TranscriptionError: terr}, nil
}

func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}
