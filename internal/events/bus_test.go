package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBus[string](4)
	a := b.Subscribe()
	c := b.Subscribe()
	b.Publish("x")
	assert.Equal(t, "x", <-a)
	assert.Equal(t, "x", <-c)
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewBus[int](1)
	ch := b.Subscribe()
	b.Publish(1)
	b.Publish(2)
	require.Equal(t, 1, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %d", v)
	default:
	}
}

func TestUnsubscribeCloses(t *testing.T) {
	b := NewBus[int](0)
	ch := b.Subscribe()
	require.Equal(t, 1, b.Subscribers())
	b.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())
	b.Publish(3)
	b.Unsubscribe(ch)
}
