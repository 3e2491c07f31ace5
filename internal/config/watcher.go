package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"toolfleet/pkg/logging"
)

// WorkerChangeHandler receives changes detected in the workers/ directory.
type WorkerChangeHandler interface {
	WorkerAdded(ctx context.Context, descriptor WorkerDescriptor)
	WorkerRemoved(ctx context.Context, name string)
	WorkerChanged(ctx context.Context, descriptor WorkerDescriptor)
}

type changeOperation int

const (
	opUpsert changeOperation = iota
	opDelete
)

// Watcher uses fsnotify to watch the workers/ directory and translates file
// events into WorkerChangeHandler calls. Events for the same file are debounced.
type Watcher struct {
	mu sync.Mutex

	dir              string
	handler          WorkerChangeHandler
	debounceInterval time.Duration

	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	// known maps a file path to the worker name it defined.
	known map[string]string
	// names maps a worker name to its last loaded descriptor.
	names map[string]WorkerDescriptor

	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for the workers/ directory under configPath.
// initial seeds the watcher with the descriptors already started.
func NewWatcher(configPath string, initial []WorkerDescriptor, handler WorkerChangeHandler, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}

	w := &Watcher{
		dir:              WorkersDir(configPath),
		handler:          handler,
		debounceInterval: debounceInterval,
		pending:          make(map[string]*time.Timer),
		known:            make(map[string]string),
		names:            make(map[string]WorkerDescriptor),
	}
	for _, d := range initial {
		w.names[d.Name] = d
		if d.Source != "" && filepath.Dir(d.Source) == w.dir {
			w.known[d.Source] = d.Name
		}
	}
	return w
}

// Start begins watching. It creates the workers/ directory if needed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}

	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.running = true

	go w.processEvents(ctx, fw, w.stopCh)

	logging.Info("ConfigWatcher", "Watching %s for worker changes", w.dir)
	return nil
}

// Stop stops watching and cancels pending debounced events.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
}

func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher, stopCh chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-stopCh:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ctx, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logging.Error("ConfigWatcher", err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(ctx context.Context, event fsnotify.Event) {
	if !IsYAMLFile(event.Name) {
		return
	}

	var op changeOperation
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		op = opUpsert
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = opDelete
	default:
		return
	}

	w.debounce(ctx, event.Name, op)
}

func (w *Watcher) debounce(ctx context.Context, path string, op changeOperation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounceInterval, func() {
		w.mu.Lock()
		delete(w.pending, path)
		running := w.running
		w.mu.Unlock()

		if running {
			w.apply(ctx, path, op)
		}
	})
}

func (w *Watcher) apply(ctx context.Context, path string, op changeOperation) {
	if op == opUpsert {
		if _, err := os.Stat(path); err != nil {
			op = opDelete
		}
	}

	if op == opDelete {
		w.mu.Lock()
		name, ok := w.known[path]
		delete(w.known, path)
		if ok {
			delete(w.names, name)
		}
		w.mu.Unlock()
		if ok {
			logging.Info("ConfigWatcher", "Worker file %s removed, stopping worker %s", filepath.Base(path), name)
			w.handler.WorkerRemoved(ctx, name)
		}
		return
	}

	d, err := LoadWorkerDescriptorFile(path)
	if err != nil {
		logging.Error("ConfigWatcher", err, "Ignoring invalid worker file %s", path)
		return
	}
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		logging.Error("ConfigWatcher", err, "Ignoring invalid worker descriptor in %s", path)
		return
	}

	w.mu.Lock()
	prevName, fileKnown := w.known[path]
	prev, nameKnown := w.names[d.Name]
	if nameKnown && prev.Source != path {
		w.mu.Unlock()
		logging.Warn("ConfigWatcher", "Worker %s in %s duplicates a worker defined in %s, ignoring", d.Name, path, prev.Source)
		return
	}
	w.known[path] = d.Name
	w.names[d.Name] = d
	w.mu.Unlock()

	switch {
	case fileKnown && prevName != d.Name:
		logging.Info("ConfigWatcher", "Worker file %s renamed worker %s to %s", filepath.Base(path), prevName, d.Name)
		w.mu.Lock()
		delete(w.names, prevName)
		w.mu.Unlock()
		w.handler.WorkerRemoved(ctx, prevName)
		w.handler.WorkerAdded(ctx, d)
	case nameKnown:
		w.handler.WorkerChanged(ctx, d)
	default:
		w.handler.WorkerAdded(ctx, d)
	}
}
