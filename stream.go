package ness

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed is returned by Next after Cancel, or after the
// owning client shuts down and the buffer has drained.
var ErrSubscriptionClosed = errors.New("subscription closed")

// DefaultSubscriptionBuffer is the per-subscription buffer capacity.
const DefaultSubscriptionBuffer = 256

// StreamItem wraps one delivered value. Dropped counts how many older
// items were discarded right before this one because the subscriber fell
// behind its buffer.
type StreamItem[T any] struct {
	Value   T
	Dropped int
}

// Subscription is an independently cancellable pull-side view of a stream.
// Slow consumers lose the oldest buffered items first, never new ones, and
// the loss is reported on the next delivered item.
type Subscription[T any] struct {
	mu       sync.Mutex
	buf      []StreamItem[T]
	capacity int
	closed   bool
	ready    chan struct{}
}

func newSubscription[T any](capacity int) *Subscription[T] {
	if capacity <= 0 {
		capacity = DefaultSubscriptionBuffer
	}
	return &Subscription[T]{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

func (s *Subscription[T]) publish(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	item := StreamItem[T]{Value: v}
	if len(s.buf) >= s.capacity {
		// The gap marker rides on the first item delivered after the
		// gap; an evicted item hands its own count forward.
		lost := s.buf[0].Dropped + 1
		s.buf = s.buf[1:]
		if len(s.buf) > 0 {
			s.buf[0].Dropped += lost
		} else {
			item.Dropped = lost
		}
	}
	s.buf = append(s.buf, item)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) wake() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next blocks until an item is available, the context is done, or the
// subscription is cancelled. Buffered items are still delivered after
// Cancel; ErrSubscriptionClosed follows once the buffer is empty.
func (s *Subscription[T]) Next(ctx context.Context) (StreamItem[T], error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			item := s.buf[0]
			s.buf = s.buf[1:]
			more := len(s.buf) > 0
			s.mu.Unlock()
			if more {
				s.wake()
			}
			return item, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			var zero StreamItem[T]
			return zero, ErrSubscriptionClosed
		}
		select {
		case <-ctx.Done():
			var zero StreamItem[T]
			return zero, ctx.Err()
		case <-s.ready:
		}
	}
}

// Cancel detaches the subscription and unblocks any pending Next.
func (s *Subscription[T]) Cancel() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// broker fans values out to any number of subscriptions. Cancelled
// subscriptions are pruned on the next publish.
type broker[T any] struct {
	mu   sync.Mutex
	subs []*Subscription[T]
}

func (b *broker[T]) subscribe(capacity int) *Subscription[T] {
	sub := newSubscription[T](capacity)
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

func (b *broker[T]) publish(v T) {
	b.mu.Lock()
	subs := b.subs[:0]
	for _, sub := range b.subs {
		sub.mu.Lock()
		closed := sub.closed
		sub.mu.Unlock()
		if !closed {
			subs = append(subs, sub)
		}
	}
	b.subs = subs
	snapshot := make([]*Subscription[T], len(subs))
	copy(snapshot, subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		sub.publish(v)
	}
}

func (b *broker[T]) close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
}
