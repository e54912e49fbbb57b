package speech

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"call_analyzer/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV writes a silent 16-bit mono PCM file of the given length.
func writeWAV(t *testing.T, path string, sampleRate int, seconds float64) {
	t.Helper()
	dataSize := uint32(float64(sampleRate) * seconds * 2)
	buf := make([]byte, 44+int(dataSize))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestWAVDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, 8000, 2.5)
	d, err := WAVDuration(path)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, d, 1e-9)

	bad := filepath.Join(t.TempDir(), "a.mp3")
	require.NoError(t, os.WriteFile(bad, []byte("ID3 not a wave"), 0o644))
	_, err = WAVDuration(bad)
	assert.Error(t, err)
}

func TestWAVDurationRejectsOversizedFmtChunk(t *testing.T) {
	buf := make([]byte, 20)
	copy(buf[0:4], "RIFF")
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 0xFFFFFFF0)
	path := filepath.Join(t.TempDir(), "huge.wav")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	_, err := WAVDuration(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fmt chunk")
}

func TestHTTPTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "ru", r.FormValue("language"))
		if _, hdr, err := r.FormFile("file"); assert.NoError(t, err) {
			assert.Equal(t, "call.wav", hdr.Filename)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"segments": []map[string]any{
				{"start": 3.0, "end": 4.0, "text": " world "},
				{"start": 0.5, "end": 1.5, "text": "hello"},
				{"start": 2.0, "end": 2.5, "text": "  "},
			},
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "call.wav")
	writeWAV(t, path, 8000, 1)

	segs, err := NewHTTPTranscriber(srv.URL+"/", "ru", time.Second).TranscribeSegments(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "hello", segs[0].Text)
	assert.Equal(t, "world", segs[1].Text)
}

func TestHTTPTranscriberError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "call.wav")
	writeWAV(t, path, 8000, 1)
	_, err := NewHTTPTranscriber(srv.URL, "", time.Second).TranscribeSegments(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestHTTPDiarizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/diarize", r.URL.Path)
		_, _ = w.Write([]byte(`{"segments":[{"start":5,"end":9,"speaker":"SPEAKER_01"},{"start":0,"end":5,"speaker":"SPEAKER_00"}]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "call.wav")
	writeWAV(t, path, 8000, 1)
	res, err := NewHTTPDiarizer(srv.URL, time.Second).Diarize(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "SPEAKER_00", res.Segments[0].Speaker)
	assert.Equal(t, 9.0, res.Duration)
}

type failingDiarizer struct{}

func (failingDiarizer) Diarize(context.Context, string) (Diarization, error) {
	return Diarization{}, errors.New("gpu gone")
}

type fixedDiarizer struct{ segs []transcript.Segment }

func (f fixedDiarizer) Diarize(context.Context, string) (Diarization, error) {
	return Diarization{Segments: f.segs, Duration: 7}, nil
}

func TestFallbackDiarizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.wav")
	writeWAV(t, path, 8000, 3)

	for name, primary := range map[string]Diarizer{"nil": nil, "failing": failingDiarizer{}, "empty": fixedDiarizer{}} {
		t.Run(name, func(t *testing.T) {
			res, err := (&FallbackDiarizer{Primary: primary}).Diarize(context.Background(), path)
			require.NoError(t, err)
			require.Len(t, res.Segments, 1)
			assert.Equal(t, FallbackSpeaker, res.Segments[0].Speaker)
			assert.InDelta(t, 3.0, res.Duration, 1e-9)
		})
	}

	want := []transcript.Segment{{Start: 0, End: 7, Speaker: "A"}}
	res, err := (&FallbackDiarizer{Primary: fixedDiarizer{segs: want}}).Diarize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, want, res.Segments)
}

func TestConverterPassthrough(t *testing.T) {
	path, created, err := Converter{Enabled: false, Bin: "ffmpeg"}.Convert(context.Background(), "/tmp/x.mp3")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "/tmp/x.mp3", path)

	path, created, err = Converter{Enabled: true, Bin: "ffmpeg"}.Convert(context.Background(), "/tmp/x.WAV")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "/tmp/x.WAV", path)
}
