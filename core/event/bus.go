package event

import (
	"sync"

	"github.com/google/uuid"
)

const defaultBuffer = 32

// Subscription is one listener attached to a Bus.
type Subscription[T any] struct {
	ID   string
	ch   chan T
	once sync.Once
}

// Events returns the channel delivering published values. It is closed on
// Unsubscribe or when the bus is closed.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

func (s *Subscription[T]) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus fans published values out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the value.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription[T]
	buffer int
	closed bool
}

// New creates a bus whose subscriptions buffer up to buffer values.
func New[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus[T]{subs: make(map[string]*Subscription[T]), buffer: buffer}
}

// Subscribe attaches a new listener.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{ID: uuid.NewString(), ch: make(chan T, b.buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe detaches a listener and closes its channel.
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.ID)
	b.mu.Unlock()
	sub.close()
}

// Listen runs fn for every value until the returned stop func is called.
func (b *Bus[T]) Listen(fn func(T)) (stop func()) {
	sub := b.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for value := range sub.Events() {
			fn(value)
		}
	}()
	return func() {
		b.Unsubscribe(sub)
		<-done
	}
}

// Publish delivers value to every subscriber with buffer room.
func (b *Bus[T]) Publish(value T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- value:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches all subscribers.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
}
