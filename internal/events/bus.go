package events

import "sync"

// Bus provides simple in-process pub/sub for observability. Slow
// subscribers miss events rather than block publishers.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs map[chan T]struct{}
	size int
}

func NewBus[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus[T]{subs: make(map[chan T]struct{}), size: buffer}
}

func (b *Bus[T]) Subscribe() <-chan T {
	ch := make(chan T, b.size)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes ch and closes it.
func (b *Bus[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		if c == ch {
			delete(b.subs, c)
			close(c)
			return
		}
	}
}

func (b *Bus[T]) Publish(ev T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
