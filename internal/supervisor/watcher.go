package supervisor

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// commandWatcher shortens the command poll: a create or write of the command
// file makes the next cycle read it instead of waiting for the interval.
type commandWatcher struct {
	w         *fsnotify.Watcher
	name      string
	triggered atomic.Bool
	wake      func()
	done      chan struct{}
}

func newCommandWatcher(path string, wake func()) (*commandWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}
	cw := &commandWatcher{w: w, name: filepath.Clean(abs), wake: wake, done: make(chan struct{})}
	go cw.run()
	return cw, nil
}

func (cw *commandWatcher) run() {
	defer close(cw.done)
	for {
		select {
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				cw.triggered.Store(true)
				if cw.wake != nil {
					cw.wake()
				}
			}
		case _, ok := <-cw.w.Errors:
			if !ok {
				return
			}
		}
	}
}

// take reports and clears a pending trigger.
func (cw *commandWatcher) take() bool { return cw.triggered.Swap(false) }

func (cw *commandWatcher) Close() error {
	err := cw.w.Close()
	<-cw.done
	return err
}
