package config

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/framesync/engine/core"
)

// OnReload receives every successfully parsed new configuration.
type OnReload func(cfg *Config)

// Watcher reloads a configuration file whenever it is written or replaced.
// Invalid files are logged and ignored; the last good config stays active.
type Watcher struct {
	path     string
	onReload OnReload

	mutex    sync.Mutex
	current  *Config
	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

func NewWatcher(path string, initial *Config, onReload OnReload) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatch.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		onReload: onReload,
		current:  initial,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the directory holding the file, since editors often replace
// the file instead of writing it in place.
func (w *Watcher) Start() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return errors.New("config watcher already closed")
	}
	if err := w.fsnotify.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.run()
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogWarn("config watcher error: %s", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		core.LogWarn("config reload of %s ignored: %s", w.path, err)
		return
	}
	w.mutex.Lock()
	w.current = cfg
	w.mutex.Unlock()

	core.LogInfo("config reloaded from %s", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *Config {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.current
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return nil
	}
	w.isClosed = true
	w.mutex.Unlock()

	close(w.done)
	err := w.fsnotify.Close()
	w.wg.Wait()
	return err
}
