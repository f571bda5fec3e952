package skills

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DriftEvent reports that on-disk skill manifests changed after the
// registry was loaded. The registry itself is immutable, so a drift
// event means the running catalog no longer matches the disk and the
// service needs a restart to pick up the change.
type DriftEvent struct {
	// Path is the file that changed.
	Path string
	// Op describes the filesystem operation.
	Op string
}

// Watcher monitors a skills directory for manifest and script changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan DriftEvent
	done    chan struct{}
	once    sync.Once
}

// NewWatcher starts watching the registry's directory and the directory
// of every loaded skill.
func NewWatcher(reg *Registry) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(reg.Dir()); err != nil {
		fw.Close()
		return nil, err
	}
	for _, desc := range reg.All() {
		if err := fw.Add(desc.Dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	w := &Watcher{
		watcher: fw,
		events:  make(chan DriftEvent, 16),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New skill directories only matter once they have a manifest;
			// anything inside an existing skill directory is relevant.
			if filepath.Base(event.Name) == ManifestFilename || event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				select {
				case w.events <- DriftEvent{Path: event.Name, Op: event.Op.String()}:
				default:
					// Drop when the consumer is behind; drift is advisory.
				}
			}
		case <-w.watcher.Errors:
			// Keep watching.
		}
	}
}

// Events returns the drift event channel. It is closed by Close.
func (w *Watcher) Events() <-chan DriftEvent {
	return w.events
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
