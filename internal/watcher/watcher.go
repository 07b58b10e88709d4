package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

const (
	defaultDebounce  = 50 * time.Millisecond
	errorLogInterval = time.Second
	errorLogBurst    = 3
)

var errNotDirectory = errors.New("not a directory")

// Start watches root and every directory below it. Events are
// delivered to options.OnEvent until Close.
func Start(root string, options Options) (*Watcher, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, &WatchInitError{Root: root, Err: err}
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return nil, &WatchInitError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &WatchInitError{Root: root, Err: errNotDirectory}
	}

	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &WatchInitError{Root: root, Err: err}
	}

	debounce := options.Debounce
	if debounce == 0 {
		debounce = defaultDebounce
	}

	instance := &Watcher{
		root:    absolute,
		watcher: source,
		onEvent: options.OnEvent,
		prune:   options.PruneDependencyDirs,
		logger: options.Logger.With(map[string]string{
			"mho.category": "watcher",
			"root":         absolute,
		}),
		dirs:         make(map[string]struct{}),
		flushes:      make(chan flushRequest),
		done:         make(chan struct{}),
		errorLimiter: rate.NewLimiter(rate.Every(errorLogInterval), errorLogBurst),
	}
	if debounce > 0 {
		instance.debouncer = newDebouncer(debounce)
	}

	if err := instance.addTree(absolute, false); err != nil {
		_ = source.Close()
		return nil, &WatchInitError{Root: root, Err: err}
	}

	go instance.run()
	instance.logger.Info("watching project", map[string]string{
		"directories": strconv.Itoa(instance.Metrics().ActiveWatches),
	})
	return instance, nil
}

// Root returns the absolute watched directory.
func (watcher *Watcher) Root() string {
	if watcher == nil {
		return ""
	}
	return watcher.root
}

// Close shuts down the watcher and stops event processing.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	if watcher.debouncer != nil {
		watcher.debouncer.stop()
	}
	watcher.mutex.Unlock()

	close(watcher.done)
	return watcher.watcher.Close()
}

func (watcher *Watcher) run() {
	for {
		select {
		case event, ok := <-watcher.watcher.Events:
			if !ok {
				return
			}
			watcher.handleEvent(event)
		case err, ok := <-watcher.watcher.Errors:
			if !ok {
				return
			}
			watcher.handleError(err)
		case request := <-watcher.flushes:
			watcher.flush(request)
		case <-watcher.done:
			return
		}
	}
}

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(watcher.root, event.Name)
	if err != nil || outsideRoot(rel) {
		return
	}

	kind := kindOf(event.Op)
	if kind == KindRemoved {
		watcher.dropTree(event.Name)
	} else if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
		// Directories have no manifest entry; addTree announces the files
		// already inside a new one.
		if kind == KindCreated && !watcher.pruned(filepath.Base(event.Name)) {
			if err := watcher.addTree(event.Name, true); err != nil {
				watcher.logWarn("watch add failed", map[string]string{
					"path":  event.Name,
					"error": err.Error(),
				})
			}
		}
		return
	}

	watcher.dispatch(Event{
		Kind:      kind,
		Path:      event.Name,
		Timestamp: time.Now().UTC(),
	})
}

func (watcher *Watcher) handleError(err error) {
	if err == nil {
		return
	}
	count := watcher.errorCount.Add(1)
	if !watcher.errorLimiter.Allow() {
		return
	}
	watcher.logWarn("watcher error", map[string]string{
		"error":  err.Error(),
		"errors": strconv.FormatUint(count, 10),
	})
}

// dispatch delivers directly or through the debouncer.
func (watcher *Watcher) dispatch(event Event) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	if watcher.debouncer != nil {
		if watcher.debouncer.schedule(event.Path, event, watcher.requestFlush) {
			watcher.eventsCoalesced.Add(1)
		}
		watcher.mutex.Unlock()
		return
	}
	watcher.mutex.Unlock()
	watcher.deliver(event)
}

func (watcher *Watcher) deliver(event Event) {
	if watcher.onEvent != nil {
		watcher.onEvent(event)
	}
	watcher.eventsDelivered.Add(1)
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	if watcher == nil {
		return
	}
	watcher.logger.Warn(message, fields)
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := len(watcher.dirs)
	watcher.mutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: watcher.eventsDelivered.Load(),
		EventsCoalesced: watcher.eventsCoalesced.Load(),
		Errors:          watcher.errorCount.Load(),
	}
}

func kindOf(op fsnotify.Op) Kind {
	switch {
	case op.Has(fsnotify.Create):
		return KindCreated
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return KindRemoved
	case op.Has(fsnotify.Write):
		return KindModified
	default:
		return KindOther
	}
}
