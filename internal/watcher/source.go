package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is one observed filesystem change
type Event struct {
	Path      string
	Timestamp time.Time
}

// EventSource abstracts the native filesystem-event capability. The
// active implementation wraps fsnotify; the no-op implementation is
// selected when the host has no event API, and the system degrades to
// fingerprint-per-crawl validation.
type EventSource interface {
	// Watch registers a directory tree for events
	Watch(root string) error
	// Events delivers observed changes until Close
	Events() <-chan Event
	// Available reports whether events will ever be delivered
	Available() bool
	// Close releases the underlying watch handles
	Close() error
}

// fsnotifySource is the active EventSource backed by fsnotify.
// fsnotify watches single directories, so each application's
// subdirectories are registered individually.
type fsnotifySource struct {
	watcher *fsnotify.Watcher
	events  chan Event
	done    chan struct{}
}

// NewFsnotifySource creates the active event source, or an error if
// the platform has no filesystem-event API
func NewFsnotifySource() (EventSource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &fsnotifySource{
		watcher: w,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

func (s *fsnotifySource) pump() {
	defer close(s.events)
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				// A created directory starts a new subtree fsnotify
				// does not cover; register it before its files change
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					s.addTree(ev.Name)
					continue
				}
			}
			select {
			case s.events <- Event{Path: ev.Name, Timestamp: time.Now()}:
			default:
				// Drop on overflow; the fingerprint check catches up
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *fsnotifySource) Watch(root string) error {
	if err := s.watcher.Add(root); err != nil {
		return err
	}
	s.addTree(root)
	return nil
}

// addTree registers a directory and its subdirectories. Errors on
// individual dirs are not fatal to the watch as a whole. Also called
// from pump when a new directory appears inside a watched tree.
func (s *fsnotifySource) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "__pycache__") {
			return filepath.SkipDir
		}
		_ = s.watcher.Add(path)
		return nil
	})
}

func (s *fsnotifySource) Events() <-chan Event { return s.events }

func (s *fsnotifySource) Available() bool { return true }

func (s *fsnotifySource) Close() error {
	close(s.done)
	return s.watcher.Close()
}

// noopSource is selected when filesystem events are unavailable. Its
// event channel never delivers, and callers can detect the degraded
// capability through Available.
type noopSource struct {
	events chan Event
}

// NewNoopSource creates the inert event source
func NewNoopSource() EventSource {
	return &noopSource{events: make(chan Event)}
}

func (s *noopSource) Watch(string) error { return nil }

func (s *noopSource) Events() <-chan Event { return s.events }

func (s *noopSource) Available() bool { return false }

func (s *noopSource) Close() error {
	close(s.events)
	return nil
}
