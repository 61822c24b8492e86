package settings

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pipeforge/conduit/api"
)

// debounceDelay coalesces the event bursts editors and atomic renames
// produce into one reload.
const debounceDelay = 200 * time.Millisecond

// Watcher re-reads the settings file when it changes on disk and
// reports which pipe tables differ from the previous state. The parent
// directory is watched rather than the file itself so atomic
// replacement (write temp, rename) is seen.
type Watcher struct {
	store       *Store
	watcher     *fsnotify.Watcher
	onChange    func(changed []string)
	logger      api.Logger
	stopChannel chan struct{}
}

// NewWatcher creates a watcher for the store's backing file. onChange
// runs on the watcher goroutine with the ids of the pipes whose
// overrides changed; it is not called for reloads that change nothing.
func NewWatcher(store *Store, onChange func(changed []string), logger api.Logger) (*Watcher, error) {
	if store.Path() == "" {
		return nil, fmt.Errorf("settings store has no backing file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		store:       store,
		watcher:     watcher,
		onChange:    onChange,
		logger:      logger,
		stopChannel: make(chan struct{}),
	}, nil
}

// Start starts watching
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch settings directory %s: %w", dir, err)
	}

	go w.watchLoop()
	w.logger.Info("Settings watcher started", "file", w.store.Path())
	return nil
}

// Stop stops watching
func (w *Watcher) Stop() error {
	close(w.stopChannel)
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Failed to close fsnotify watcher", "error", err)
	}
	w.logger.Info("Settings watcher stopped")
	return nil
}

// watchLoop is the main event loop
func (w *Watcher) watchLoop() {
	base := filepath.Base(w.store.Path())

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-w.stopChannel:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
			} else {
				debounce.Reset(debounceDelay)
			}
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Settings watcher error", "error", err)
		}
	}
}

// reload re-reads the file and reports changed pipes
func (w *Watcher) reload() {
	before := w.store.Snapshot()

	if err := w.store.Load(); err != nil {
		w.logger.Error("Failed to reload settings", "error", err)
		return
	}

	changed := DiffPipes(before, w.store.Snapshot())
	if len(changed) == 0 {
		w.logger.Debug("Settings reloaded, no changes")
		return
	}

	w.logger.Info("Settings changed on disk", "pipes", changed)
	if w.onChange != nil {
		w.onChange(changed)
	}
}
