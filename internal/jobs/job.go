// Package jobs defines the call job lifecycle shared by the orchestrator and
// its observers.
package jobs

import (
	"fmt"
	"time"
)

// State is a step of the call processing state machine.
type State string

const (
	StatePending      State = "pending"
	StatePolling      State = "polling"
	StateDownloading  State = "downloading"
	StateTranscribing State = "transcribing"
	StateDiarizing    State = "diarizing"
	StateAnalyzing    State = "analyzing"
	StateReporting    State = "reporting"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Reason explains a failure or a degraded outcome.
type Reason string

const (
	ReasonNone Reason = ""
	// Terminal failures.
	ReasonRecordingNotReady Reason = "recording_not_ready"
	ReasonAudioUnavailable  Reason = "audio_unavailable"
	// Non-fatal outcomes.
	ReasonTranscriptionDegraded Reason = "transcription_degraded"
	ReasonOwnerUnresolved       Reason = "owner_unresolved"
	ReasonNotACallEvent         Reason = "not_a_call_event"
	ReasonReportUndelivered     Reason = "report_undelivered"
	ReasonQueueFull             Reason = "queue_full"
	ReasonCanceled              Reason = "canceled"
	ReasonInternal              Reason = "internal"
)

// Source tells where the recording of a job comes from.
type Source string

const (
	SourceCRM  Source = "crm"
	SourceFile Source = "file"
)

// CallJob is one processing run of a call. It is owned by the goroutine
// executing it.
type CallJob struct {
	CallID    string
	RunID     string
	Source    Source
	Path      string
	Attempts  int
	State     State
	Reason    Reason
	CreatedAt time.Time
}

// Transition is emitted every time a job changes state.
type Transition struct {
	CallID   string    `json:"call_id"`
	RunID    string    `json:"run_id"`
	Source   Source    `json:"source"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	Reason   Reason    `json:"reason,omitempty"`
	Attempts int       `json:"attempts"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// Error carries a Reason through error returns.
type Error struct {
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Fail builds an Error.
func Fail(reason Reason, cause error, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...), Cause: cause}
}
