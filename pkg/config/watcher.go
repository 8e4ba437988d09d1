package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file when it changes on disk, so operators can
// re-tune rate limits without restarting the host process.
//
// Editors typically replace files via rename, so the watch is placed on the
// parent directory and events are filtered to the config path. Writes are
// debounced because a single save can produce several events.
type Watcher struct {
	path     string
	onChange func(*Config)
	onError  func(error)
}

// NewWatcher creates a watcher for the given config file path. onChange is
// called with the freshly loaded and validated config; onError receives load
// failures (the previous config stays in effect). Either callback may be nil.
func NewWatcher(path string, onChange func(*Config), onError func(error)) *Watcher {
	return &Watcher{path: path, onChange: onChange, onError: onError}
}

// Run watches until ctx is cancelled. It returns immediately with an error if
// the underlying filesystem watch cannot be established.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}

	go func() {
		defer fw.Close()

		const debounce = 200 * time.Millisecond
		var timer *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				cfg, err := Load(w.path)
				if err != nil {
					if w.onError != nil {
						w.onError(err)
					}
					continue
				}
				if w.onChange != nil {
					w.onChange(cfg)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				if w.onError != nil {
					w.onError(err)
				}
			}
		}
	}()

	return nil
}
