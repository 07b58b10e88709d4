package hub

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mho/internal/logging"

	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultCapacity      = 100
	DefaultSweepInterval = 10 * time.Second

	defaultName                 = "changes"
	defaultDropWarningThreshold = 0.01
	defaultDropWarningInterval  = 30 * time.Second
)

type Options[T any] struct {
	// Name labels log lines and metrics.
	Name string
	// Capacity is the per-subscription queue size.
	Capacity int
	// Heartbeat is the value Sweep offers every subscription.
	Heartbeat T
	Logger    *logging.Logger
	// Meter defaults to the global otel meter provider.
	Meter metric.Meter
}

// Hub fans values out to subscriptions without ever waiting on one.
//
// Membership is guarded by mu. Sends happen under the read lock and queue
// closes under the write lock, so a send never races a close.
type Hub[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription[T]
	nextID      atomic.Uint64
	closed      bool
	closeOnce   sync.Once
	done        chan struct{}

	options     Options[T]
	logger      *logging.Logger
	instruments instruments

	published   atomic.Int64
	dropped     atomic.Int64
	pruned      atomic.Int64
	lastWarning atomic.Int64
}

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Subscribers int
	Published   int64
	Dropped     int64
	Pruned      int64
}

func New[T any](options Options[T]) *Hub[T] {
	if options.Capacity <= 0 {
		options.Capacity = DefaultCapacity
	}
	if options.Name == "" {
		options.Name = defaultName
	}
	logger := options.Logger.With(map[string]string{
		"mho.category": "hub",
		"hub":          options.Name,
	})
	return &Hub[T]{
		subscribers: make(map[uint64]*Subscription[T]),
		done:        make(chan struct{}),
		options:     options,
		logger:      logger,
		instruments: newInstruments(options.Meter, options.Name, logger),
	}
}

// Subscribe registers a new bounded queue. On a closed hub the returned
// subscription's channel is already closed.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		id: h.nextID.Add(1),
		ch: make(chan T, h.options.Capacity),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	h.subscribers[sub.id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.instruments.addSubscribers(1)
	h.logger.Debug("subscription added", map[string]string{
		"subscription": strconv.FormatUint(sub.id, 10),
		"subscribers":  strconv.Itoa(count),
	})
	return sub
}

// Publish offers value to every subscription. A full queue drops the value
// for that subscriber only; a subscription whose consumer has gone is marked
// for removal at the next sweep.
func (h *Hub[T]) Publish(value T) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	var dropped int64
	for _, sub := range h.subscribers {
		switch sub.offer(value) {
		case offerFull:
			dropped++
		case offerGone:
			sub.stale.Store(true)
		}
	}
	h.mu.RUnlock()

	h.published.Add(1)
	h.instruments.addPublished(1)
	if dropped > 0 {
		h.dropped.Add(dropped)
		h.instruments.addDropped(dropped)
		h.maybeWarnDropRate()
	}
}

// Sweep offers the heartbeat to every subscription and removes those that
// did not take it, along with any already marked for removal. Removed
// queues are closed. It returns the number of subscriptions removed.
func (h *Hub[T]) Sweep() int {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0
	}
	var dead []uint64
	for id, sub := range h.subscribers {
		if sub.stale.Load() {
			dead = append(dead, id)
			continue
		}
		if sub.offer(h.options.Heartbeat) != offerSent {
			dead = append(dead, id)
		}
	}
	h.mu.RUnlock()

	if len(dead) == 0 {
		return 0
	}

	removed := 0
	h.mu.Lock()
	for _, id := range dead {
		sub, ok := h.subscribers[id]
		if !ok {
			continue
		}
		delete(h.subscribers, id)
		close(sub.ch)
		removed++
	}
	remaining := len(h.subscribers)
	h.mu.Unlock()

	if removed > 0 {
		h.pruned.Add(int64(removed))
		h.instruments.addPruned(int64(removed))
		h.instruments.addSubscribers(-int64(removed))
		h.logger.Debug("subscriptions pruned", map[string]string{
			"removed":     strconv.Itoa(removed),
			"subscribers": strconv.Itoa(remaining),
		})
	}
	return removed
}

// Run sweeps every interval until ctx is done or the hub is closed.
func (h *Hub[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Sweep()
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

// Count reports current membership.
func (h *Hub[T]) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub[T]) Stats() Stats {
	return Stats{
		Subscribers: h.Count(),
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Pruned:      h.pruned.Load(),
	}
}

// Close removes every subscription and closes its queue. Later Publish and
// Sweep calls are no-ops.
func (h *Hub[T]) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		subscribers := h.subscribers
		h.subscribers = make(map[uint64]*Subscription[T])
		for _, sub := range subscribers {
			close(sub.ch)
		}
		h.mu.Unlock()

		close(h.done)
		h.instruments.addSubscribers(-int64(len(subscribers)))
	})
}

func (h *Hub[T]) maybeWarnDropRate() {
	published := h.published.Load()
	dropped := h.dropped.Load()
	if published == 0 || dropped == 0 {
		return
	}
	rate := float64(dropped) / float64(published)
	if rate < defaultDropWarningThreshold {
		return
	}
	now := time.Now()
	lastNanos := h.lastWarning.Load()
	if lastNanos > 0 && now.Sub(time.Unix(0, lastNanos)) < defaultDropWarningInterval {
		return
	}
	if !h.lastWarning.CompareAndSwap(lastNanos, now.UnixNano()) {
		return
	}
	h.logger.Warn("slow subscribers dropping events", map[string]string{
		"dropped":   strconv.FormatInt(dropped, 10),
		"published": strconv.FormatInt(published, 10),
	})
}
