// Package bus provides the auth-changed notification channel between the
// session manager and its consumers. It replaces ambient global events with an
// explicit subject that is passed through construction.
package bus

import "sync"

// Bus fans one boolean signal (authentication changed) out to subscribers.
// Publish is synchronous: handlers run on the publisher's goroutine, in
// subscription order. There is no queueing: a subscriber registered after a
// publish never sees that event.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id      int
	handler func(bool)
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Unsubscribing is idempotent.
func (b *Bus) Subscribe(handler func(bool)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish notifies all current subscribers with flag. Handlers are invoked
// outside the lock so they may subscribe or unsubscribe without deadlocking.
func (b *Bus) Publish(flag bool) {
	b.mu.Lock()
	snapshot := make([]subscriber, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.handler(flag)
	}
}
