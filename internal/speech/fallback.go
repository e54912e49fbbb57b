package speech

import (
	"context"
	"log/slog"

	"call_analyzer/internal/transcript"
)

// FallbackSpeaker labels the single whole-file segment of a degraded diarization.
const FallbackSpeaker = "SPEAKER"

// FallbackDiarizer delegates to Primary and degrades to one whole-file
// segment when Primary is missing, fails, or finds no speech.
type FallbackDiarizer struct {
	Primary Diarizer
	Logger  *slog.Logger
}

func (f *FallbackDiarizer) Diarize(ctx context.Context, audioPath string) (Diarization, error) {
	if f.Primary != nil {
		res, err := f.Primary.Diarize(ctx, audioPath)
		if err == nil && len(res.Segments) > 0 {
			return res, nil
		}
		if ctx.Err() != nil {
			return Diarization{}, ctx.Err()
		}
		if f.Logger != nil {
			f.Logger.Warn("diarization degraded to single segment", "path", audioPath, "error", err)
		}
	}
	duration, err := WAVDuration(audioPath)
	if err != nil {
		duration = 0
	}
	return Diarization{
		Segments: []transcript.Segment{{Start: 0, End: duration, Speaker: FallbackSpeaker}},
		Duration: duration,
	}, nil
}
