package fs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ansvik/stash/lib/driver"
)

// dirPollInterval paces the wait for a base directory that does not exist
// yet when watching starts.
const dirPollInterval = 500 * time.Millisecond

// watcher multiplexes one recursive fsnotify watcher over any number of
// subscribed callbacks. The underlying watcher is started when the first
// callback subscribes and torn down when the last one leaves.
type watcher struct {
	d *fsDriver

	mu     sync.Mutex
	subs   map[uint64]driver.WatchCallback
	nextID uint64
	fsw    *fsnotify.Watcher
	dirs   map[string]bool
	stop   chan struct{}
	closed bool
}

func newWatcher(d *fsDriver) *watcher {
	return &watcher{
		d:    d,
		subs: make(map[uint64]driver.WatchCallback),
	}
}

func (w *watcher) subscribe(cb driver.WatchCallback) (driver.UnwatchFunc, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, driver.NewError(driver.RetCBackend, "fs driver is disposed")
	}

	w.nextID++
	id := w.nextID
	w.subs[id] = cb

	if len(w.subs) == 1 {
		if err := w.startLocked(); err != nil {
			delete(w.subs, id)
			return nil, err
		}
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.subs, id)
			if len(w.subs) == 0 {
				w.stopLocked()
			}
		})
		return nil
	}, nil
}

func (w *watcher) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.subs = make(map[uint64]driver.WatchCallback)
	w.stopLocked()
	return nil
}

// --------------------------------------------------------------------------
// Lifecycle (w.mu held)
// --------------------------------------------------------------------------

func (w *watcher) startLocked() error {
	stop := make(chan struct{})
	w.stop = stop

	if _, err := os.Stat(w.d.dir); err != nil {
		// base directory not there yet: poll until it appears, then start
		go w.waitForDir(stop)
		return nil
	}
	return w.startWatcherLocked(stop)
}

func (w *watcher) startWatcherLocked(stop chan struct{}) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return driver.NewErrorf(driver.RetCBackend, "create watcher: %v", err)
	}
	w.fsw = fsw
	w.dirs = make(map[string]bool)
	w.addDirTree(w.d.dir, false)
	go w.run(fsw, stop)
	return nil
}

func (w *watcher) stopLocked() {
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
	if w.fsw != nil {
		if err := w.fsw.Close(); err != nil {
			Logger.Warnf("closing watcher: %v", err)
		}
		w.fsw = nil
	}
	w.dirs = nil
}

// waitForDir polls for the base directory and starts the real watcher once
// it exists.
func (w *watcher) waitForDir(stop chan struct{}) {
	ticker := time.NewTicker(dirPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := os.Stat(w.d.dir); err != nil {
				continue
			}
			w.mu.Lock()
			// only start if this generation is still the active one
			if w.stop == stop {
				if err := w.startWatcherLocked(stop); err != nil {
					Logger.Warnf("starting watcher on %s: %v", w.d.dir, err)
				}
			}
			w.mu.Unlock()
			return
		}
	}
}

// --------------------------------------------------------------------------
// Event loop
// --------------------------------------------------------------------------

func (w *watcher) run(fsw *fsnotify.Watcher, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			Logger.Warnf("watcher error on %s: %v", w.d.dir, err)
		}
	}
}

func (w *watcher) handleEvent(event fsnotify.Event) {
	key := w.d.keyFor(event.Name)
	if key == "" {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if w.d.ignore.MatchDir(key) {
				return
			}
			// a new directory needs its own watch; files that raced in
			// before the watch was added are reported here
			w.mu.Lock()
			var raced []string
			if w.fsw != nil {
				raced = w.addDirTree(event.Name, true)
			}
			w.mu.Unlock()
			for _, k := range raced {
				w.emit(driver.EventUpdate, k)
			}
			return
		}
		w.emit(driver.EventUpdate, key)
	case event.Op.Has(fsnotify.Write):
		w.emit(driver.EventUpdate, key)
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		wasDir := w.dirs[event.Name]
		delete(w.dirs, event.Name)
		w.mu.Unlock()
		if !wasDir {
			w.emit(driver.EventRemove, key)
		}
	}
}

// addDirTree registers watches for dir and every subdirectory. With
// announce set, files discovered during the walk are returned so the
// caller can report them as updates once the lock is released (they may
// have been created before their directory's watch existed). Callers hold
// w.mu.
func (w *watcher) addDirTree(dir string, announce bool) []string {
	var raced []string
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			Logger.Warnf("watcher walk %s: %v", path, err)
			return nil
		}
		key := w.d.keyFor(path)
		if entry.IsDir() {
			if key != "" && w.d.ignore.MatchDir(key) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				Logger.Warnf("watch %s: %v", path, err)
				return nil
			}
			w.dirs[path] = true
			return nil
		}
		if announce && !w.d.ignore.Match(key) {
			raced = append(raced, key)
		}
		return nil
	})
	return raced
}

// emit fans an event out to every subscriber. Ignored keys are filtered
// here so the check applies to all event paths.
func (w *watcher) emit(event driver.EventType, key string) {
	if w.d.ignore.Match(key) {
		return
	}
	w.mu.Lock()
	cbs := make([]driver.WatchCallback, 0, len(w.subs))
	for _, cb := range w.subs {
		cbs = append(cbs, cb)
	}
	w.mu.Unlock()
	for _, cb := range cbs {
		cb(event, key)
	}
}
