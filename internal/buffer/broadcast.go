package buffer

import "sync"

// Broadcaster publishes the latest value to any number of subscribers.
// Publishing never blocks: a subscriber that has not consumed the previous
// value sees only the newest one.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	last   T
	has    bool
}

// NewBroadcaster creates a broadcaster without subscribers.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[int]chan T)}
}

// Publish replaces the pending value of every subscriber with v.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = v
	b.has = true
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		// only Publish sends, under the lock, so the slot is free
		ch <- v
	}
}

// Subscribe returns a channel receiving published values and a function that
// unsubscribes and closes the channel. A new subscriber immediately receives
// the last published value, if any.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, 1)
	if b.has {
		ch <- b.last
	}
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Latest returns the last published value.
func (b *Broadcaster[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.has
}
