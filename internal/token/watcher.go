package token

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"matchgate/internal/errors"

	"github.com/fsnotify/fsnotify"
)

// Invalidator is implemented by stores that cache file contents.
type Invalidator interface {
	Invalidate()
}

// FileWatcher watches the token file for writes by other processes (a second
// CLI invocation logging in, for example) and drops the cached token so the
// next request picks up the new one.
type FileWatcher struct {
	mu sync.Mutex

	path        string
	lastModTime time.Time
	exists      bool

	fsWatcher     *fsnotify.Watcher
	debounceDelay time.Duration
	debounceTimer *time.Timer

	stopChan   chan struct{}
	reloadChan chan struct{}

	target   Invalidator
	onChange func()
	logger   *errors.Logger

	running bool
}

// NewFileWatcher creates a watcher for path. onChange may be nil.
func NewFileWatcher(path string, target Invalidator, debounceDelay time.Duration, onChange func(), logger *errors.Logger) *FileWatcher {
	if debounceDelay == 0 {
		debounceDelay = 250 * time.Millisecond
	}
	if logger == nil {
		logger = errors.Discard()
	}
	return &FileWatcher{
		path:          path,
		debounceDelay: debounceDelay,
		stopChan:      make(chan struct{}),
		reloadChan:    make(chan struct{}, 1),
		target:        target,
		onChange:      onChange,
		logger:        logger,
	}
}

// Start begins watching. The file's directory is watched rather than the file
// itself so that atomic rename-over writes are seen.
func (w *FileWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("token file watcher is already running")
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	w.fsWatcher = watcher
	w.snapshot()

	w.running = true
	go w.watchLoop()

	w.logger.Info("Token file watcher started", "file", w.path, "debounce_delay", w.debounceDelay)
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	close(w.stopChan)
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.running = false

	if err := w.fsWatcher.Close(); err != nil {
		w.logger.LogError(err, "Failed to close token file watcher")
		return err
	}
	w.logger.Info("Token file watcher stopped")
	return nil
}

// IsRunning returns whether the watcher is currently running
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *FileWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.shouldProcessEvent(event) {
				w.scheduleReload()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.LogError(err, "Token file watcher error")

		case <-w.reloadChan:
			if w.changed() {
				w.logger.Debug("Token file changed, invalidating cached token", "file", w.path)
				if w.target != nil {
					w.target.Invalidate()
				}
				if w.onChange != nil {
					w.onChange()
				}
			}

		case <-w.stopChan:
			return
		}
	}
}

func (w *FileWatcher) shouldProcessEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

func (w *FileWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, func() {
		select {
		case w.reloadChan <- struct{}{}:
		default:
		}
	})
}

// snapshot records the current file state. Callers hold w.mu or own w exclusively.
func (w *FileWatcher) snapshot() {
	stat, err := os.Stat(w.path)
	if err != nil {
		w.exists = false
		w.lastModTime = time.Time{}
		return
	}
	w.exists = true
	w.lastModTime = stat.ModTime()
}

func (w *FileWatcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	stat, err := os.Stat(w.path)
	if err != nil {
		if w.exists {
			w.exists = false
			w.lastModTime = time.Time{}
			return true
		}
		return false
	}
	if !w.exists || !stat.ModTime().Equal(w.lastModTime) {
		w.exists = true
		w.lastModTime = stat.ModTime()
		return true
	}
	return false
}
