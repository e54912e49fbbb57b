// Package speech wraps the transcription and diarization services.
package speech

import (
	"context"
	"errors"

	"call_analyzer/internal/transcript"
)

// ErrUnavailable is returned when no transcription backend is configured.
var ErrUnavailable = errors.New("speech backend unavailable")

// Transcriber turns an audio file into time-ordered text segments.
type Transcriber interface {
	TranscribeSegments(ctx context.Context, audioPath string) ([]transcript.Segment, error)
}

// Diarization is the speaker timeline of one file.
type Diarization struct {
	Segments []transcript.Segment
	Duration float64
}

// Diarizer splits an audio file into speaker turns.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) (Diarization, error)
}

// NopTranscriber stands in when no transcription service is configured.
type NopTranscriber struct{}

func (NopTranscriber) TranscribeSegments(context.Context, string) ([]transcript.Segment, error) {
	return nil, ErrUnavailable
}
