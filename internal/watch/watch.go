// Package watch reports edits made to the rules file by other processes.
package watch

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source is the file being watched. ExternalChange must return false for
// writes the owner made itself.
type Source interface {
	Path() string
	ExternalChange() (bool, error)
}

// Watcher watches the directory holding a file, since editors and atomic
// renames replace the inode and a watch on the file itself would go stale.
type Watcher struct {
	source   Source
	onChange func()
	settle   time.Duration
	watcher  *fsnotify.Watcher
}

// New starts watching the source's directory. onChange runs on the watcher
// goroutine once writes have settled and the content really changed.
func New(source Source, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(source.Path())
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		source:   source,
		onChange: onChange,
		settle:   200 * time.Millisecond,
		watcher:  fw,
	}, nil
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	name := filepath.Base(w.source.Path())
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.settle)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watch: %s: %v", w.source.Path(), err)
		case <-timer.C:
			changed, err := w.source.ExternalChange()
			if err != nil {
				log.Printf("watch: check %s: %v", w.source.Path(), err)
				continue
			}
			if changed {
				log.Printf("watch: %s changed on disk", w.source.Path())
				w.onChange()
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
