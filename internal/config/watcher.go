package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a config file for changes using fsnotify and calls a
// callback when the file is modified. Editors commonly replace a file on
// save rather than writing in place, which surfaces as a Remove/Rename
// event followed by a Create of the same path; the watcher re-adds the
// watch on the containing directory in that case so the subscription
// survives the swap.
type Watcher struct {
	path     string
	dir      string
	onChange func(old, new *Config)

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	current *Config

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts watching for filesystem events in a background
// goroutine.
func NewWatcher(path string, onChange func(old, new *Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch directory %q: %w", dir, err)
	}

	w := &Watcher{
		path:     path,
		dir:      dir,
		onChange: onChange,
		watcher:  fsw,
		current:  cfg,
		done:     make(chan struct{}),
	}

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher and releases the underlying fsnotify handle.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			// A save-by-rename editor pattern removes the watched inode;
			// re-add the directory watch so future events still arrive.
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				_ = w.watcher.Add(w.dir)
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.reload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher: fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config watcher: failed to reload config; keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}
