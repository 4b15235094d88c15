// Package watcher observes one configuration directory, non-recursively,
// and reports debounced created/updated/deleted events per config file.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet window before a change is classified.
const DefaultDebounce = 500 * time.Millisecond

type EventType string

const (
	Created EventType = "created"
	Updated EventType = "updated"
	Deleted EventType = "deleted"
)

// Event names one classified change. Name is the file stem, the service
// name by store convention.
type Event struct {
	Type EventType
	Name string
	Path string
}

type Options struct {
	Dir      string
	Ext      string        // default ".json"
	Debounce time.Duration // default DefaultDebounce
}

// fileState is the snapshot entry classification compares against.
type fileState struct {
	mtime time.Time
	size  int64
}

type Watcher struct {
	dir     string
	ext     string
	fw      *fsnotify.Watcher
	deb     *debouncer
	onEvent func(Event)

	mu       sync.Mutex
	snapshot map[string]fileState
	closed   bool

	wg sync.WaitGroup
}

// New builds a watcher; Start begins delivery. onEvent is invoked from a
// timer goroutine, one call at a time per file.
func New(opts Options, onEvent func(Event)) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("watch dir is required")
	}
	if onEvent == nil {
		return nil, fmt.Errorf("event callback is required")
	}
	ext := opts.Ext
	if ext == "" {
		ext = ".json"
	}
	window := opts.Debounce
	if window <= 0 {
		window = DefaultDebounce
	}
	w := &Watcher{
		dir:      opts.Dir,
		ext:      ext,
		onEvent:  onEvent,
		snapshot: make(map[string]fileState),
	}
	w.deb = newDebouncer(window, w.classify)
	return w, nil
}

// Start snapshots the directory and begins watching it.
func (w *Watcher) Start() error {
	if err := w.takeSnapshot(); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.fw = fw
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) takeSnapshot() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read watch dir: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), w.ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), w.ext)
		w.snapshot[name] = fileState{mtime: info.ModTime(), size: info.Size()}
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, w.ext) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue // store temp files
			}
			w.deb.Add(ev.Name)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watch error", "error", err)
		}
	}
}

// classify compares the debounced path against the snapshot and emits at
// most one event, updating the snapshot in the same step.
func (w *Watcher) classify(path string) {
	name := strings.TrimSuffix(filepath.Base(path), w.ext)

	info, statErr := os.Stat(path)
	exists := statErr == nil && !info.IsDir()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	prev, tracked := w.snapshot[name]
	var ev *Event
	switch {
	case exists && !tracked:
		w.snapshot[name] = fileState{mtime: info.ModTime(), size: info.Size()}
		ev = &Event{Type: Created, Name: name, Path: path}
	case !exists && tracked:
		delete(w.snapshot, name)
		ev = &Event{Type: Deleted, Name: name, Path: path}
	case exists && tracked:
		cur := fileState{mtime: info.ModTime(), size: info.Size()}
		if cur != prev {
			w.snapshot[name] = cur
			ev = &Event{Type: Updated, Name: name, Path: path}
		}
	}
	w.mu.Unlock()

	if ev != nil {
		w.onEvent(*ev)
	}
}

// Close stops watching; pending debounce timers are cancelled.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.deb.Stop()
	var err error
	if w.fw != nil {
		err = w.fw.Close()
	}
	w.wg.Wait()
	return err
}
