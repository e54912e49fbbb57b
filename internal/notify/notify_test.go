package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/crm"
	"call_analyzer/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *analysis.Report {
	return &analysis.Report{
		CallID:          "42",
		CallType:        crm.CallIncoming,
		DurationSeconds: 125,
		BestScriptName:  "greeting",
		ScriptMatch:     analysis.ScriptMatch{Found: []string{"a", "c"}, Missed: []string{"b"}, Score: 2.0 / 3},
		Interests:       map[string]int{"цена": 2, "доставка": 1},
		Informative:     true,
		PerRoleSeconds:  map[transcript.Role]float64{transcript.RoleManager: 70.4, transcript.RoleClient: 40},
		Promises:        []string{"перезвоню"},
		PolitenessScore: 40,
		Transcript: []analysis.Line{
			{Role: transcript.RoleManager, Text: "Добрый день"},
			{Role: transcript.RoleClient, Text: "Какая цена?"},
		},
	}
}

func TestFormatComment(t *testing.T) {
	got := FormatComment(sampleReport())
	want := strings.Join([]string{
		"Automatic call analysis",
		"Call type: incoming",
		"Duration: 2m 05s",
		`Script "greeting": 67% (2/3 phrases)`,
		"Politeness: 40%",
		"Promises: перезвоню",
		"Time by role:",
		"Manager: 70 s",
		"Client: 40 s",
		"Client interests: цена(2), доставка(1)",
		"Informative: yes",
		"Missed phrases: b",
		"Dialogue:",
		"Manager: Добрый день",
		"Client: Какая цена?",
		"Call ID: 42",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestFormatCommentSparseReport(t *testing.T) {
	got := FormatComment(&analysis.Report{CallID: "7", CallType: crm.CallUnknown})
	assert.Contains(t, got, "Script: not configured")
	assert.Contains(t, got, "Client interests: none detected")
	assert.Contains(t, got, "Informative: no")
	assert.NotContains(t, got, "Promises:")
	assert.True(t, strings.HasSuffix(got, "Dialogue:\nCall ID: 7"))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b", Snippet(" a \n b ", 400))
	long := strings.Repeat("ж", 500)
	s := Snippet(long, 400)
	assert.Equal(t, 400, len([]rune(s)))
	assert.True(t, strings.HasSuffix(s, "..."))
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink := FileSink{Dir: dir, Now: func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }}
	require.NoError(t, sink.Deliver(context.Background(), Delivery{Report: sampleReport()}))

	tr, err := os.ReadFile(filepath.Join(dir, "42_transcript.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Manager: Добрый день\nClient: Какая цена?", string(tr))

	sum, err := os.ReadFile(filepath.Join(dir, "42_summary.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(sum), "Report date: 2024-03-01 10:00:00")
	assert.Contains(t, string(sum), "Missed phrases: b")
	assert.Contains(t, string(sum), "Conversation excerpt:\nДобрый день Какая цена?")
}

type recordingPoster struct {
	owner crm.Owner
	text  string
	err   error
}

func (p *recordingPoster) PostComment(_ context.Context, owner crm.Owner, text string) error {
	p.owner, p.text = owner, text
	return p.err
}

func TestCommentSink(t *testing.T) {
	p := &recordingPoster{}
	owner := crm.Owner{TypeID: "2", ID: "10"}
	require.NoError(t, CommentSink{Poster: p}.Deliver(context.Background(), Delivery{Owner: owner, Report: sampleReport()}))
	assert.Equal(t, owner, p.owner)
	assert.Contains(t, p.text, "Call ID: 42")

	assert.Error(t, CommentSink{Poster: p}.Deliver(context.Background(), Delivery{Report: sampleReport()}))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingPoster{}
	bad := &recordingPoster{err: errors.New("portal down")}
	d := Delivery{Owner: crm.Owner{TypeID: "1", ID: "1"}, Report: sampleReport()}
	err := Multi{CommentSink{Poster: bad}, CommentSink{Poster: ok}}.Deliver(context.Background(), d)
	require.Error(t, err)
	assert.NotEmpty(t, ok.text)
}

func TestChatSink(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		body = buf.String()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, ChatSink{URL: srv.URL}.Deliver(context.Background(), Delivery{Report: sampleReport()}))
	assert.Empty(t, body)

	require.NoError(t, ChatSink{URL: srv.URL, BotID: "bot"}.Deliver(context.Background(), Delivery{Report: sampleReport()}))
	assert.Contains(t, body, `"bot_id":"bot"`)
}
