package project

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers a rescan callback when the tree changes, debounced so a
// burst of writes causes one rescan.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func()
	done     chan struct{}
	wg       sync.WaitGroup
}

const debounceInterval = 500 * time.Millisecond

// NewWatcher watches root (and its immediate non-ignored subdirectories) and
// calls onChange after changes settle.
func NewWatcher(root string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	// Watch the root and its immediate subdirectories only; changes deeper
	// in the tree do not trigger onChange.
	fsw.Add(root)
	entries, _ := os.ReadDir(root)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if isIgnoredDir(entry.Name()) {
			continue
		}
		fsw.Add(filepath.Join(root, entry.Name()))
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func isIgnoredDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, pattern := range defaultIgnorePatterns {
		if name == pattern {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(debounceInterval)
				timerC = timer.C
			} else {
				timer.Reset(debounceInterval)
			}
		case <-w.watcher.Errors:
			// Watch errors are non-fatal and are dropped.
		case <-timerC:
			timer = nil
			timerC = nil
			w.onChange()
		}
	}
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
}
