package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"call_analyzer/internal/jobs"
)

func TestTransitionCountsTerminalOutcome(t *testing.T) {
	m := New()
	ts := time.Now()
	m.Transition(jobs.Transition{RunID: "r", To: jobs.StatePending, At: ts})
	m.Transition(jobs.Transition{RunID: "r", From: jobs.StatePending, To: jobs.StatePolling, At: ts.Add(time.Second)})
	m.Transition(jobs.Transition{RunID: "r", From: jobs.StatePolling, To: jobs.StateFailed, Reason: jobs.ReasonRecordingNotReady, Attempts: 15, At: ts.Add(3 * time.Second)})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("failed", "recording_not_ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("polling")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stageTime))
	assert.Empty(t, m.runs)
}

func TestGaugesAndSubmissions(t *testing.T) {
	m := New()
	m.Submitted("accepted")
	m.Submitted("accepted")
	m.Submitted("duplicate")
	m.SetQueue(3, 2, 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submitted.WithLabelValues("accepted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueLen))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.inFlight))
}
