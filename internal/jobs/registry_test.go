package jobs

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAcquireIsExclusive(t *testing.T) {
	r := NewRegistry()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.Acquire("call-1", fmt.Sprintf("run-%d", i)) {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, 1, r.Len())

	r.Release("call-1")
	assert.Zero(t, r.Len())
	assert.True(t, r.Acquire("call-1", "again"))
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.Acquire("a", "r1")
	r.Acquire("b", "r2")
	r.SetState("b", StateTranscribing)
	r.SetState("missing", StateDone)

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
	states := map[string]State{}
	for _, e := range snap {
		states[e.CallID] = e.State
	}
	assert.Equal(t, StatePending, states["a"])
	assert.Equal(t, StateTranscribing, states["b"])
	assert.Equal(t, 2, r.Len())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Fail(ReasonAudioUnavailable, cause, "file %s too small", "x.mp3")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "audio_unavailable")
	assert.Contains(t, err.Error(), "x.mp3")

	var jerr *Error
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", err), &jerr))
	assert.Equal(t, ReasonAudioUnavailable, jerr.Reason)
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateReporting.Terminal())
}
