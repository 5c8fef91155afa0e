// Package watcher emits debounced file.changed events for a set of
// configured path globs, backed by fsnotify and internal/debounce.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/somersstack/clier/internal/debounce"
	"github.com/somersstack/clier/internal/eventbus"
)

// ChangeKind classifies the fsnotify op that triggered a change.
type ChangeKind string

const (
	Created  ChangeKind = "created"
	Modified ChangeKind = "modified"
	Deleted  ChangeKind = "deleted"
)

// WatchSpec describes one set of globs to watch, debounced independently.
type WatchSpec struct {
	ID      string
	Globs   []string
	DelayMs int
}

const defaultDelayMs = 100

// Watcher recursively watches the directories implied by its WatchSpecs and
// publishes debounced "file.changed" events on the bus.
type Watcher struct {
	bus    *eventbus.Bus
	deb    *debounce.Debouncer
	fsw    *fsnotify.Watcher
	specs  []WatchSpec
	done   chan struct{}
	lastEv map[string]pendingChange
}

type pendingChange struct {
	path string
	kind ChangeKind
}

// New builds a Watcher publishing to bus. Start must be called to begin
// watching.
func New(bus *eventbus.Bus, specs []WatchSpec) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		bus:    bus,
		deb:    debounce.New(),
		fsw:    fsw,
		specs:  specs,
		done:   make(chan struct{}),
		lastEv: make(map[string]pendingChange),
	}
	for _, spec := range specs {
		for _, g := range spec.Globs {
			dir := globBaseDir(g)
			if err := w.addRecursive(dir); err != nil {
				slog.Warn("watcher: failed to watch directory", "dir", dir, "err", err)
			}
		}
	}
	return w, nil
}

// addRecursive registers dir and every subdirectory, never following
// symlinks.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort
		}
		if info.IsDir() {
			if isSymlink(path) && path != dir {
				return filepath.SkipDir
			}
			return w.fsw.Add(path)
		}
		return nil
	})
}

func isSymlink(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}

// Start runs the watch loop in a new goroutine until Close is called.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher: fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	spec := w.matchingSpec(ev.Name)
	if spec == nil {
		return
	}
	kind := classify(ev.Op)

	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() && !isSymlink(ev.Name) {
			_ = w.addRecursive(ev.Name)
		}
	}

	delay := spec.DelayMs
	if delay <= 0 {
		delay = defaultDelayMs
	}

	w.lastEv[spec.ID] = pendingChange{path: ev.Name, kind: kind}
	w.deb.Debounce(spec.ID, time.Duration(delay)*time.Millisecond, func() {
		change := w.lastEv[spec.ID]
		w.bus.Publish(eventbus.Event{
			Name: "file.changed",
			Type: "custom",
			Data: map[string]string{
				"path":       change.path,
				"kind":       string(change.kind),
				"watchSpecId": spec.ID,
			},
		})
	})
}

func (w *Watcher) matchingSpec(path string) *WatchSpec {
	for i := range w.specs {
		for _, g := range w.specs[i].Globs {
			if ok, _ := filepath.Match(g, path); ok {
				return &w.specs[i]
			}
			if strings.HasPrefix(path, globBaseDir(g)) {
				return &w.specs[i]
			}
		}
	}
	return nil
}

func classify(op fsnotify.Op) ChangeKind {
	switch {
	case op&fsnotify.Create != 0:
		return Created
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return Deleted
	default:
		return Modified
	}
}

// Close stops the watch loop and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	w.deb.CancelAll()
	return w.fsw.Close()
}

// globBaseDir returns the longest literal directory prefix of a glob,
// i.e. "src/**" -> "src".
func globBaseDir(glob string) string {
	idx := strings.IndexAny(glob, "*?[")
	if idx == -1 {
		return glob
	}
	dir := filepath.Dir(glob[:idx])
	if dir == "." {
		return "."
	}
	return dir
}
