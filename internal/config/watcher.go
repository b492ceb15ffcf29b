package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file when it changes on disk and hands the new
// snapshot to a callback. The monitor loop uses this to pick up threshold
// rule changes without a restart.
type Watcher struct {
	path     string
	callback func(*Config)
	log      zerolog.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher for the config file at path. The callback
// runs on the watcher goroutine with each successfully reloaded Config.
func NewWatcher(path string, log zerolog.Logger, callback func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		callback: callback,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start begins watching. Editors replace files rather than rewriting them
// in place, so the parent directory is watched and events filtered by name.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop()
	w.log.Debug().Str("path", w.path).Msg("watching config file")
	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(evt.Name) != filepath.Clean(w.path) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				// Keep running with the previous config. A half-saved
				// file will produce another event when the save completes.
				w.log.Warn().Err(err).Msg("config reload failed, keeping previous settings")
				continue
			}
			w.log.Info().Msg("config reloaded")
			if w.callback != nil {
				w.callback(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
