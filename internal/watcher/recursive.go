package watcher

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"mho/internal/fsutil"
)

// addTree watches dir and every directory below it that is not pruned. A
// failure to watch dir itself is returned; failures below it are logged.
// With announce set, files already present are reported as created, since
// they may have appeared before the watch was in place.
func (watcher *Watcher) addTree(dir string, announce bool) error {
	if err := watcher.addWatch(dir); err != nil {
		return err
	}

	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if path == dir {
			return nil
		}
		if entry.IsDir() {
			if watcher.pruned(entry.Name()) {
				return filepath.SkipDir
			}
			if err := watcher.addWatch(path); err != nil {
				watcher.logWarn("watch add failed", map[string]string{
					"path":  path,
					"error": err.Error(),
				})
				return filepath.SkipDir
			}
			return nil
		}
		if announce && entry.Type().IsRegular() {
			watcher.dispatch(Event{
				Kind:      KindCreated,
				Path:      path,
				Timestamp: time.Now().UTC(),
			})
		}
		return nil
	})
}

func (watcher *Watcher) addWatch(path string) error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	if _, ok := watcher.dirs[path]; ok {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.mutex.Unlock()

	if err := watcher.watcher.Add(path); err != nil {
		return err
	}

	watcher.mutex.Lock()
	watcher.dirs[path] = struct{}{}
	active := len(watcher.dirs)
	watcher.mutex.Unlock()

	watcher.logger.Debug("watch added", map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(active),
	})
	return nil
}

// dropTree forgets path and every watched directory below it.
func (watcher *Watcher) dropTree(path string) {
	watcher.mutex.Lock()
	var removed []string
	for dir := range watcher.dirs {
		if fsutil.IsWithin(path, dir) {
			delete(watcher.dirs, dir)
			removed = append(removed, dir)
		}
	}
	active := len(watcher.dirs)
	watcher.mutex.Unlock()

	if len(removed) == 0 {
		return
	}
	sort.Strings(removed)
	for _, dir := range removed {
		// Deleted directories are already gone from the kernel watch set.
		_ = watcher.watcher.Remove(dir)
	}
	watcher.logger.Debug("watch removed", map[string]string{
		"path":           path,
		"removed":        strconv.Itoa(len(removed)),
		"active_watches": strconv.Itoa(active),
	})
}

// Watched lists the directories currently watched, sorted.
func (watcher *Watcher) Watched() []string {
	watcher.mutex.Lock()
	dirs := make([]string, 0, len(watcher.dirs))
	for dir := range watcher.dirs {
		dirs = append(dirs, dir)
	}
	watcher.mutex.Unlock()
	sort.Strings(dirs)
	return dirs
}

// pruned reports whether a directory named name is left unwatched.
func (watcher *Watcher) pruned(name string) bool {
	return watcher.prune && fsutil.SkipName(name)
}

func outsideRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
