package hub

import (
	"sync/atomic"
)

type offerResult int

const (
	offerSent offerResult = iota
	offerFull
	offerGone
)

// Subscription is one consumer's bounded queue. The hub owns the send side;
// the consumer reads C until it is closed and calls Close when it stops.
type Subscription[T any] struct {
	id uint64
	ch chan T

	// released is set by the consumer. stale is set by the hub once a send
	// observed the release.
	released atomic.Bool
	stale    atomic.Bool
	dropped  atomic.Uint64
}

func (s *Subscription[T]) ID() uint64 {
	return s.id
}

// C is the receive side. It is closed when the hub removes the subscription.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close releases the consumer side. The hub notices on its next publish or
// sweep and removes the subscription within one sweep interval.
func (s *Subscription[T]) Close() {
	s.released.Store(true)
}

// Dropped counts values discarded because the queue was full.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// offer must be called with the hub's read lock held.
func (s *Subscription[T]) offer(value T) offerResult {
	if s.released.Load() {
		return offerGone
	}
	select {
	case s.ch <- value:
		return offerSent
	default:
		s.dropped.Add(1)
		return offerFull
	}
}
