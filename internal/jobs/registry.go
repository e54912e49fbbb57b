package jobs

import (
	"sort"
	"sync"
	"time"
)

// Entry is a snapshot of one in-flight job.
type Entry struct {
	CallID string    `json:"call_id"`
	RunID  string    `json:"run_id"`
	State  State     `json:"state"`
	Since  time.Time `json:"since"`
}

// Registry is the set of call ids currently being processed. Holding an
// entry is what grants the right to process a call.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Acquire registers callID and reports whether the caller now owns it.
func (r *Registry) Acquire(callID, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.entries[callID]; busy {
		return false
	}
	r.entries[callID] = Entry{CallID: callID, RunID: runID, State: StatePending, Since: time.Now().UTC()}
	return true
}

// SetState records the current state of an owned entry.
func (r *Registry) SetState(callID string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[callID]; ok {
		e.State = s
		r.entries[callID] = e
	}
}

// Release drops callID so a later event can process it again.
func (r *Registry) Release(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, callID)
}

// Len counts held call ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot lists in-flight jobs, oldest first.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}
