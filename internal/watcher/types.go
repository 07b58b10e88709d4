package watcher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mho/internal/logging"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Kind classifies a filesystem change.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindRemoved  Kind = "removed"
	KindOther    Kind = "other"
)

// Event represents a single filesystem change.
type Event struct {
	Kind      Kind
	Path      string
	Timestamp time.Time
}

// Options controls watcher behavior.
type Options struct {
	// OnEvent is invoked on the watcher's goroutine, one event at a time.
	OnEvent func(Event)
	Logger  *logging.Logger
	// Debounce coalesces bursts per path. Zero selects the default; a
	// negative value delivers every raw event.
	Debounce time.Duration
	// PruneDependencyDirs stops descent into hidden directories and
	// node_modules to bound OS watch descriptors. Changes inside pruned
	// directories are then not reported.
	PruneDependencyDirs bool
}

// Metrics reports watcher counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsCoalesced uint64
	Errors          uint64
}

// WatchInitError reports that the watch on root could not be established.
type WatchInitError struct {
	Root string
	Err  error
}

func (e *WatchInitError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Root, e.Err)
}

func (e *WatchInitError) Unwrap() error {
	return e.Err
}

// Watcher is the concrete fsnotify-backed implementation.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	onEvent func(Event)
	logger  *logging.Logger
	prune   bool

	mutex     sync.Mutex
	dirs      map[string]struct{}
	debouncer *debouncer
	closed    bool

	flushes chan flushRequest
	done    chan struct{}

	errorLimiter    *rate.Limiter
	eventsDelivered atomic.Uint64
	eventsCoalesced atomic.Uint64
	errorCount      atomic.Uint64
}
