package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must stay quiet before callbacks run.
const DefaultSettle = 200 * time.Millisecond

// Watcher reports rewrites of configuration files. A burst of events for
// one file, as editors produce when saving, is delivered once.
type Watcher struct {
	fs     *fsnotify.Watcher
	log    *slog.Logger
	settle time.Duration

	mu      sync.Mutex
	files   map[string]struct{}
	pending map[string]*time.Timer
	subs    []func(string)

	done chan struct{}
	once sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// WithSettle overrides DefaultSettle. Zero delivers every event at once.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.settle = d }
}

// NewWatcher creates a watcher with no files.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:      fw,
		log:     slog.Default(),
		settle:  DefaultSettle,
		files:   make(map[string]struct{}),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch adds path. Its directory is watched so that a file replaced by
// rename is still seen.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fs.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	w.mu.Lock()
	w.files[abs] = struct{}{}
	w.mu.Unlock()
	w.log.Debug("watching configuration file", "path", abs)
	return nil
}

// OnChange registers fn to receive the absolute path of a changed file.
func (w *Watcher) OnChange(fn func(path string)) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Start delivers changes until Stop is called.
func (w *Watcher) Start() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.touch(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("configuration watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// StartAsync runs Start in its own goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

// Stop ends delivery and drops changes still settling. Later calls are
// no-ops.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		for name, t := range w.pending {
			t.Stop()
			delete(w.pending, name)
		}
		w.mu.Unlock()
		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) touch(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok {
		return
	}
	if w.settle <= 0 {
		go w.fire(abs)
		return
	}
	if t, ok := w.pending[abs]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[abs] = time.AfterFunc(w.settle, func() { w.fire(abs) })
}

func (w *Watcher) fire(path string) {
	select {
	case <-w.done:
		return
	default:
	}

	w.mu.Lock()
	delete(w.pending, path)
	subs := append(([]func(string))(nil), w.subs...)
	w.mu.Unlock()

	w.log.Info("configuration file changed", "path", path)
	for _, fn := range subs {
		fn(path)
	}
}
