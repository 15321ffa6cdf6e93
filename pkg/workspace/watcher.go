package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors workspace skill directories and invalidates the
// manager's bootstrap cache when files change.
type Watcher struct {
	watcher            *fsnotify.Watcher
	manager            *Manager
	stabilityThreshold time.Duration
	done               chan struct{}
	debounceTimers     map[string]*time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

// NewWatcher creates a watcher bound to a workspace manager.
func NewWatcher(manager *Manager, stabilityThreshold time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if stabilityThreshold == 0 {
		stabilityThreshold = 100 * time.Millisecond
	}

	return &Watcher{
		watcher:            fsw,
		manager:            manager,
		stabilityThreshold: stabilityThreshold,
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Watch adds a workspace directory's skills folder to the watch set.
// Missing skills folders are ignored; the cache simply never invalidates.
func (w *Watcher) Watch(dir string) error {
	skillsPath := filepath.Join(dir, SkillsDir)
	if err := w.watcher.Add(skillsPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", skillsPath, err)
	}
	return nil
}

// Start runs the event loop until Stop is called.
func (w *Watcher) Start() {
	go w.eventLoop()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			w.debounce(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Workspace watcher error")
		}
	}
}

// debounce waits for the file to stabilize before invalidating, so a burst
// of writes triggers one invalidation.
func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounceTimers[path]; ok {
		timer.Stop()
	}

	w.debounceTimers[path] = time.AfterFunc(w.stabilityThreshold, func() {
		dir := filepath.Dir(filepath.Dir(path)) // strip skills/<file>
		w.manager.InvalidateBootstrap(dir)
		log.Debug().Str("dir", dir).Str("file", path).Msg("Bootstrap cache invalidated")

		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()
	})
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}
