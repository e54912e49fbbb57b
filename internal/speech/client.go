package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"call_analyzer/internal/transcript"
)

type remoteSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
}

type remoteResponse struct {
	Segments []remoteSegment `json:"segments"`
	Language string          `json:"language"`
	Duration float64         `json:"duration"`
}

// httpClient posts an audio file as multipart form data to a model server.
type httpClient struct {
	baseURL string
	c       *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) httpClient {
	return httpClient{baseURL: strings.TrimRight(baseURL, "/"), c: &http.Client{Timeout: timeout}}
}

func (h httpClient) upload(ctx context.Context, endpoint, audioPath string, fields map[string]string) (*remoteResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	fd, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	if _, err := io.Copy(fw, fd); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+endpoint, &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s %s: %s", endpoint, resp.Status, strings.TrimSpace(string(body)))
	}
	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s decode: %w", endpoint, err)
	}
	return &out, nil
}

// HTTPTranscriber calls POST {baseURL}/transcribe.
type HTTPTranscriber struct {
	http     httpClient
	language string
}

func NewHTTPTranscriber(baseURL, language string, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{http: newHTTPClient(baseURL, timeout), language: language}
}

func (t *HTTPTranscriber) TranscribeSegments(ctx context.Context, audioPath string) ([]transcript.Segment, error) {
	resp, err := t.http.upload(ctx, "/transcribe", audioPath, map[string]string{"language": t.language})
	if err != nil {
		return nil, err
	}
	out := make([]transcript.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out = append(out, transcript.Segment{Start: s.Start, End: max(s.End, s.Start), Text: text})
	}
	return transcript.Sorted(out), nil
}

// HTTPDiarizer calls POST {baseURL}/diarize.
type HTTPDiarizer struct {
	http httpClient
}

func NewHTTPDiarizer(baseURL string, timeout time.Duration) *HTTPDiarizer {
	return &HTTPDiarizer{http: newHTTPClient(baseURL, timeout)}
}

func (d *HTTPDiarizer) Diarize(ctx context.Context, audioPath string) (Diarization, error) {
	resp, err := d.http.upload(ctx, "/diarize", audioPath, nil)
	if err != nil {
		return Diarization{}, err
	}
	segs := make([]transcript.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, transcript.Segment{Start: s.Start, End: max(s.End, s.Start), Speaker: s.Speaker})
	}
	segs = transcript.Sorted(segs)
	duration := resp.Duration
	if duration <= 0 {
		duration = transcript.End(segs)
	}
	return Diarization{Segments: segs, Duration: duration}, nil
}
