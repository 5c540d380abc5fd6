package terminal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called with the new contents of a watched file.
type ChangeHandler func(key string, content []byte)

// Watcher reports saves of files open in the editor, so callers can pick up
// edits before the editor exits.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange ChangeHandler
	logger   *zap.Logger

	mu       sync.RWMutex
	watching map[string]string // absolute path → caller key
	done     chan struct{}
}

// NewWatcher creates a Watcher and starts its event loop.
func NewWatcher(onChange ChangeHandler, logger *zap.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Watcher{
		watcher:  watcher,
		onChange: onChange,
		logger:   logger.Named("watch"),
		watching: make(map[string]string),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch starts reporting writes to filePath under key.
func (w *Watcher) Watch(key, filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.watching[absPath] = key
	w.mu.Unlock()

	// fsnotify watches directories; editors often replace the file on save.
	return w.watcher.Add(filepath.Dir(absPath))
}

// Unwatch stops reporting for key.
func (w *Watcher) Unwatch(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, k := range w.watching {
		if k == key {
			delete(w.watching, path)
		}
	}
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			absPath, _ := filepath.Abs(event.Name)
			w.mu.RLock()
			key, watched := w.watching[absPath]
			w.mu.RUnlock()
			if !watched {
				continue
			}

			content, err := os.ReadFile(absPath)
			if err != nil {
				w.logger.Warn("read watched file", zap.String("path", absPath), zap.Error(err))
				continue
			}
			if w.onChange != nil {
				w.onChange(key, content)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
