// Package watcher implements the Watcher port (spec.md §4.1, §6.4) over
// fsnotify, normalizing raw filesystem events into relative, POSIX-style
// dirty-path notifications.
package watcher

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FsNotifyWatcher observes one local root recursively and reports every
// file-level event as a path relative to that root. Directory events are
// discarded per spec.md §6.4.
type FsNotifyWatcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	root    string
	done    chan struct{}
}

// New creates an FsNotifyWatcher. logger may be nil.
func New(logger *slog.Logger) *FsNotifyWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FsNotifyWatcher{logger: logger}
}

// Start begins watching root recursively. onDirty is invoked, from an
// internal goroutine, with a POSIX-relative path for every file event
// whose source resolves under root; events outside root are discarded.
func (w *FsNotifyWatcher) Start(root string, onDirty func(relPath string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		fsw.Close()
		return err
	}

	if err := addRecursive(fsw, absRoot); err != nil {
		fsw.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = fsw
	w.root = absRoot
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.loop(fsw, absRoot, onDirty, done)
	return nil
}

func (w *FsNotifyWatcher) loop(fsw *fsnotify.Watcher, root string, onDirty func(relPath string), done chan struct{}) {
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(fsw, root, event, onDirty)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		case <-done:
			return
		}
	}
}

func (w *FsNotifyWatcher) handle(fsw *fsnotify.Watcher, root string, event fsnotify.Event, onDirty func(relPath string)) {
	info, statErr := osLstat(event.Name)
	isDir := statErr == nil && info.IsDir()

	// A newly created directory must be watched too, so events inside it
	// surface; fsnotify is not recursive on its own.
	if isDir && (event.Op&fsnotify.Create) != 0 {
		_ = addRecursive(fsw, event.Name)
		return
	}
	if isDir {
		return
	}

	rel, ok := relativeUnder(root, event.Name)
	if !ok || rel == "" {
		return
	}
	onDirty(rel)
}

// Stop releases the underlying fsnotify watcher. Safe to call more than
// once.
func (w *FsNotifyWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	close(w.done)
	err := w.watcher.Close()
	w.watcher = nil
	return err
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return walkDirs(root, func(dir string) error {
		return fsw.Add(dir)
	})
}

func relativeUnder(root, absPath string) (string, bool) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", false
	}
	return rel, true
}
