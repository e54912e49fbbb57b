package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/scripts"
	"call_analyzer/internal/speech"
	"call_analyzer/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

type countingTranscriber struct {
	active, peak int32
	delay        time.Duration
}

func (c *countingTranscriber) TranscribeSegments(ctx context.Context, _ string) ([]transcript.Segment, error) {
	n := atomic.AddInt32(&c.active, 1)
	defer atomic.AddInt32(&c.active, -1)
	for {
		p := atomic.LoadInt32(&c.peak)
		if n <= p || atomic.CompareAndSwapInt32(&c.peak, p, n) {
			break
		}
	}
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []transcript.Segment{{Start: 0, End: 1, Text: "hi"}}, nil
}

func TestTranscriptionIsSerialisedAcrossPipelines(t *testing.T) {
	tr := &countingTranscriber{delay: 20 * time.Millisecond}
	lock := semaphore.NewWeighted(1)
	a := New(Options{Transcriber: tr, TranscriptionLock: lock})
	b := New(Options{Transcriber: tr, TranscriptionLock: lock})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		p := a
		if i%2 == 1 {
			p = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Transcribe(context.Background(), "x.wav")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.peak))
}

type countingDiarizer struct {
	active, peak int32
	release      chan struct{}
}

func (c *countingDiarizer) Diarize(ctx context.Context, _ string) (speech.Diarization, error) {
	n := atomic.AddInt32(&c.active, 1)
	defer atomic.AddInt32(&c.active, -1)
	for {
		p := atomic.LoadInt32(&c.peak)
		if n <= p || atomic.CompareAndSwapInt32(&c.peak, p, n) {
			break
		}
	}
	select {
	case <-c.release:
	case <-ctx.Done():
		return speech.Diarization{}, ctx.Err()
	}
	return speech.Diarization{Segments: []transcript.Segment{{Start: 0, End: 1, Speaker: "A"}}, Duration: 1}, nil
}

func TestDiarizationRunsConcurrentlyAcrossJobs(t *testing.T) {
	tr := &countingTranscriber{delay: 5 * time.Millisecond}
	dr := &countingDiarizer{release: make(chan struct{})}
	lock := semaphore.NewWeighted(1)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		p := New(Options{Transcriber: tr, Diarizer: dr, TranscriptionLock: lock})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Run(context.Background(), Call{ID: "c"}, "x.wav")
			assert.NoError(t, err)
		}()
	}

	// Every job is parked in Diarize at once while transcription stayed serial.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&dr.active) == 3 }, 2*time.Second, 5*time.Millisecond)
	close(dr.release)
	wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&dr.peak))
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.peak))
}

func TestTranscribeHonoursCancellationWhileWaiting(t *testing.T) {
	lock := semaphore.NewWeighted(1)
	require.True(t, lock.TryAcquire(1))
	p := New(Options{Transcriber: &countingTranscriber{}, TranscriptionLock: lock})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Transcribe(ctx, "x.wav")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStageTimeout(t *testing.T) {
	p := New(Options{Transcriber: &countingTranscriber{delay: time.Second}, StageTimeout: 10 * time.Millisecond})
	_, err := p.Transcribe(context.Background(), "x.wav")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type stubTranscriber struct {
	segs []transcript.Segment
	err  error
}

func (s stubTranscriber) TranscribeSegments(context.Context, string) ([]transcript.Segment, error) {
	return s.segs, s.err
}

type stubDiarizer struct{ res speech.Diarization }

func (s stubDiarizer) Diarize(context.Context, string) (speech.Diarization, error) { return s.res, nil }

func TestRunProducesRoleLabelledReport(t *testing.T) {
	cat, err := scripts.New(scripts.Script{Name: "greet", Phrases: []string{"добрый день", "чем помочь"}})
	require.NoError(t, err)

	p := New(Options{
		Transcriber: stubTranscriber{segs: []transcript.Segment{
			{Start: 0.5, End: 3, Text: "Добрый день, чем помочь?"},
			{Start: 4, End: 6, Text: "Хочу купить, какая цена?"},
		}},
		Diarizer: stubDiarizer{res: speech.Diarization{
			Segments: []transcript.Segment{
				{Start: 0, End: 3.5, Speaker: "SPEAKER_01"},
				{Start: 3.5, End: 6, Speaker: "SPEAKER_00"},
			},
			Duration: 6,
		}},
		Analyzer: analysis.New(cat, analysis.Options{}),
	})

	res, err := p.Run(context.Background(), Call{ID: "1", Type: "incoming"}, "x.wav")
	require.NoError(t, err)
	require.NoError(t, res.TranscriptionError)
	r := res.Report
	assert.Equal(t, "greet", r.BestScriptName)
	assert.Equal(t, 1.0, r.ScriptMatch.Score)
	assert.Equal(t, map[string]int{"купить": 1, "цена": 1}, r.Interests)
	assert.Equal(t, 6.0, r.DurationSeconds)
	require.Len(t, r.Transcript, 2)
	assert.Equal(t, transcript.RoleManager, r.Transcript[0].Role)
	assert.Equal(t, transcript.RoleClient, r.Transcript[1].Role)
}

func TestRunDegradesOnTranscriptionFailure(t *testing.T) {
	p := New(Options{
		Transcriber: stubTranscriber{err: errors.New("cuda oom")},
		Diarizer:    stubDiarizer{res: speech.Diarization{Segments: []transcript.Segment{{Start: 0, End: 9, Speaker: "A"}}, Duration: 9}},
	})
	res, err := p.Run(context.Background(), Call{ID: "2"}, "x.wav")
	require.NoError(t, err)
	require.Error(t, res.TranscriptionError)
	assert.False(t, res.Report.Informative)
	assert.Empty(t, res.Report.Transcript)
	assert.Equal(t, 9.0, res.Report.PerRoleSeconds[transcript.RoleManager])
}
