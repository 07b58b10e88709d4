package watcher

import (
	"time"
)

type debounceEntry struct {
	timer      *time.Timer
	event      Event
	generation uint64
}

// flushRequest names the entry a timer was armed for. A request whose
// generation no longer matches the entry is stale and flushes nothing.
type flushRequest struct {
	path       string
	generation uint64
}

type debouncer struct {
	duration   time.Duration
	entries    map[string]debounceEntry
	generation uint64
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

// schedule records event for path and arms a fresh timer for it. It reports
// whether a pending event was folded into this one.
func (debouncer *debouncer) schedule(path string, event Event, flush func(flushRequest)) bool {
	if debouncer == nil || debouncer.entries == nil {
		return false
	}
	entry, pending := debouncer.entries[path]
	if pending {
		event.Kind = mergeKind(entry.event.Kind, event.Kind)
		// The old timer may already have fired with its flush still queued.
		entry.timer.Stop()
	}
	debouncer.generation++
	request := flushRequest{path: path, generation: debouncer.generation}
	entry.event = event
	entry.generation = request.generation
	entry.timer = time.AfterFunc(debouncer.duration, func() {
		flush(request)
	})
	debouncer.entries[path] = entry
	return pending
}

func (debouncer *debouncer) pop(request flushRequest) (Event, bool) {
	if debouncer == nil {
		return Event{}, false
	}
	entry, ok := debouncer.entries[request.path]
	if !ok || entry.generation != request.generation {
		return Event{}, false
	}
	delete(debouncer.entries, request.path)
	return entry.event, true
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}

// mergeKind folds a burst into the change a client should see. An editor's
// remove-then-create save is a modification.
func mergeKind(previous, next Kind) Kind {
	switch {
	case previous == KindRemoved && next == KindCreated:
		return KindModified
	case previous == KindCreated && next != KindRemoved:
		return KindCreated
	case next == KindOther:
		return previous
	default:
		return next
	}
}

// requestFlush runs on the timer goroutine and hands the request back to run so
// delivery stays on the watcher's goroutine.
func (watcher *Watcher) requestFlush(request flushRequest) {
	select {
	case watcher.flushes <- request:
	case <-watcher.done:
	}
}

func (watcher *Watcher) flush(request flushRequest) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	event, ok := watcher.debouncer.pop(request)
	watcher.mutex.Unlock()
	if !ok {
		return
	}
	watcher.deliver(event)
}
