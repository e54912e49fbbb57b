package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/crm"
)

// Delivery is a finished report addressed to its CRM owner. Owner is empty
// for locally ingested files.
type Delivery struct {
	Owner  crm.Owner
	Report *analysis.Report
}

// Sink consumes finished reports.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

// CommentPoster is the part of the CRM client CommentSink needs.
type CommentPoster interface {
	PostComment(ctx context.Context, owner crm.Owner, text string) error
}

// CommentSink posts the formatted report to the owner's CRM timeline.
type CommentSink struct {
	Poster CommentPoster
}

func (s CommentSink) Deliver(ctx context.Context, d Delivery) error {
	if d.Owner.ID == "" {
		return errors.New("comment sink: delivery without owner")
	}
	return s.Poster.PostComment(ctx, d.Owner, FormatComment(d.Report))
}

// FileSink writes {call_id}_transcript.txt and {call_id}_summary.txt.
type FileSink struct {
	Dir string
	Now func() time.Time
}

func (s FileSink) Deliver(_ context.Context, d Delivery) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	base := safeName(d.Report.CallID)
	if err := os.WriteFile(filepath.Join(s.Dir, base+"_transcript.txt"), []byte(FormatTranscript(d.Report)), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, base+"_summary.txt"), []byte(FormatSummary(d.Report, now())), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// ChatSink mirrors the comment to a GroupMe-style bot endpoint.
type ChatSink struct {
	URL    string
	BotID  string
	Client *http.Client
}

func (s ChatSink) Deliver(ctx context.Context, d Delivery) error {
	if s.BotID == "" {
		return nil
	}
	buf, err := json.Marshal(map[string]string{"text": FormatComment(d.Report), "bot_id": s.BotID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat status %d", resp.StatusCode)
	}
	return nil
}

// Multi delivers to every sink and joins their errors.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, d Delivery) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, id)
}
