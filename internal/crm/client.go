// Package crm talks to a Bitrix24 portal through an incoming webhook.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrNotFound is returned when the portal has no such activity.
var ErrNotFound = errors.New("activity not found")

// Options configures a Client.
type Options struct {
	WebhookURL   string
	AudioBaseURL string
	DownloadDir  string
	Timeout      time.Duration
}

// Client is a minimal Bitrix24 REST client.
type Client struct {
	webhook   string
	audioBase string
	dir       string
	c         *http.Client
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	webhook := opts.WebhookURL
	if webhook != "" && !strings.HasSuffix(webhook, "/") {
		webhook += "/"
	}
	return &Client{
		webhook:   webhook,
		audioBase: opts.AudioBaseURL,
		dir:       opts.DownloadDir,
		c:         &http.Client{Timeout: timeout},
	}
}

// FetchActivity loads crm.activity.get for id.
func (c *Client) FetchActivity(ctx context.Context, id string) (*Activity, error) {
	u := c.webhook + "crm.activity.get.json?" + url.Values{"id": {id}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("crm.activity.get %s: %w", id, err)
	}
	result := gjson.GetBytes(body, "result")
	if !result.IsObject() || len(result.Map()) == 0 {
		return nil, ErrNotFound
	}
	return ParseActivity([]byte(result.Raw))
}

// DownloadRecording stores the recording as {dir}/{file_id}.mp3 and returns
// its path. A partial file is removed on failure.
func (c *Client) DownloadRecording(ctx context.Context, ref RecordingRef) (string, error) {
	src := ref.URL
	if src == "" {
		if c.audioBase == "" {
			return "", errors.New("download: no recording url and no audio base url")
		}
		src = c.audioBase + url.PathEscape(ref.FileID)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(c.dir, sanitize(ref.FileID)+".mp3")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.c.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ref.FileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: %s", ref.FileID, resp.Status)
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("download %s: %w", ref.FileID, err)
	}
	return dst, nil
}

// PostComment adds a timeline comment to the owner entity.
func (c *Client) PostComment(ctx context.Context, owner Owner, text string) error {
	payload, err := json.Marshal(map[string]any{
		"fields": map[string]string{
			"ENTITY_TYPE_ID": owner.TypeID,
			"ENTITY_ID":      owner.ID,
			"COMMENT":        text,
		},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhook+"crm.timeline.comment.add.json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("crm.timeline.comment.add %s/%s: %w", owner.TypeID, owner.ID, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if msg := gjson.GetBytes(body, "error_description").String(); msg != "" {
		return nil, fmt.Errorf("%s: %s", gjson.GetBytes(body, "error").String(), msg)
	}
	if code := gjson.GetBytes(body, "error").String(); code != "" {
		return nil, errors.New(code)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	return body, nil
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '.' {
			return '_'
		}
		return r
	}, id)
}
