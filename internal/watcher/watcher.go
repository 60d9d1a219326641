// Package watcher maintains per-application activity state, promoting
// and demoting applications across processing tiers as files change
// and invalidating stale cache entries in real time.
package watcher

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"wkb/internal/logging"
)

// Invalidator removes cache entries for an application when its files
// change. Satisfied by the fingerprint cache.
type Invalidator interface {
	ClearApp(app string) error
}

// Options configures the activity watcher
type Options struct {
	// PromotionFileThreshold promotes background apps to queued; twice
	// this count promotes queued apps to immediate
	PromotionFileThreshold int
	// ImmediateTimeout demotes idle immediate apps to queued
	ImmediateTimeout time.Duration
	// QueuedTimeout demotes idle queued apps to background
	QueuedTimeout time.Duration
	// Debounce suppresses repeat events per file path
	Debounce time.Duration
	// MonitorInterval is the demotion check period
	MonitorInterval time.Duration
}

// DefaultOptions returns the documented threshold defaults
func DefaultOptions() Options {
	return Options{
		PromotionFileThreshold: 3,
		ImmediateTimeout:       30 * time.Minute,
		QueuedTimeout:          60 * time.Minute,
		Debounce:               2 * time.Second,
		MonitorInterval:        60 * time.Second,
	}
}

// sourceExtensions is the fixed allow-list of extensions that count
// as activity
var sourceExtensions = map[string]bool{
	".cfm": true, ".cfc": true, ".js": true, ".ts": true,
	".java": true, ".py": true, ".go": true, ".cs": true,
	".php": true, ".rb": true, ".sql": true, ".html": true,
	".jsp": true, ".json": true, ".xml": true, ".yml": true, ".yaml": true,
}

// ActivityWatcher owns the ApplicationState map. Two concurrent
// activities mutate it: the event consumer goroutine and the
// monitoring loop. Everything else reads snapshots.
type ActivityWatcher struct {
	opts   Options
	source EventSource
	cache  Invalidator
	logger *logging.Logger

	mu       sync.RWMutex
	states   map[string]*ApplicationState
	lastSeen map[string]time.Time // per-path debounce

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates an activity watcher over the given event source. Pass
// the source from NewFsnotifySource, or NewNoopSource when watching
// is disabled or unavailable.
func New(source EventSource, cache Invalidator, opts Options, logger *logging.Logger) *ActivityWatcher {
	if opts.PromotionFileThreshold <= 0 {
		opts.PromotionFileThreshold = 3
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = 60 * time.Second
	}
	if opts.ImmediateTimeout <= 0 {
		opts.ImmediateTimeout = 30 * time.Minute
	}
	if opts.QueuedTimeout <= 0 {
		opts.QueuedTimeout = 60 * time.Minute
	}

	return &ActivityWatcher{
		opts:     opts,
		source:   source,
		cache:    cache,
		logger:   logger.WithComponent("watcher"),
		states:   make(map[string]*ApplicationState),
		lastSeen: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// Available reports whether filesystem events are actually delivered
func (w *ActivityWatcher) Available() bool {
	return w.source.Available()
}

// Track registers an application at an initial tier and starts
// watching its root
func (w *ActivityWatcher) Track(name, path string, tier Tier) error {
	w.mu.Lock()
	if _, exists := w.states[name]; !exists {
		w.states[name] = &ApplicationState{
			Name:         name,
			Path:         path,
			Tier:         tier,
			LastActivity: time.Now(),
		}
	}
	w.mu.Unlock()

	if !w.source.Available() {
		return nil
	}
	return w.source.Watch(path)
}

// SetCached records cache availability for an application
func (w *ActivityWatcher) SetCached(name string, cached bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.states[name]; ok {
		s.Cached = cached
	}
}

// State returns a snapshot of one application's state
func (w *ActivityWatcher) State(name string) (ApplicationState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.states[name]
	if !ok {
		return ApplicationState{}, false
	}
	return s.clone(), true
}

// States returns snapshots of all tracked applications, sorted by name
func (w *ActivityWatcher) States() []ApplicationState {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]ApplicationState, 0, len(w.states))
	for _, s := range w.states {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the event consumer and the monitoring loop. Without
// filesystem events there is no activity signal to act on, so neither
// loop runs: degraded mode means no promotion and no demotion, with
// fingerprints still re-validated per crawl.
func (w *ActivityWatcher) Start() {
	if w.started {
		return
	}
	w.started = true

	if !w.source.Available() {
		w.logger.Info("Filesystem events unavailable, running degraded (no tier transitions)", nil)
		return
	}

	w.wg.Add(2)
	go w.consumeEvents()
	go w.monitorLoop()
}

// Stop shuts down in order: event source first so no late event can
// arrive, then the monitoring loop is signalled and joined.
func (w *ActivityWatcher) Stop() {
	if !w.started {
		return
	}
	w.started = false

	if err := w.source.Close(); err != nil {
		w.logger.Warn("Error closing event source", map[string]interface{}{
			"error": err.Error(),
		})
	}
	close(w.stopCh)
	w.wg.Wait()

	w.logger.Info("Activity watcher stopped", nil)
}

func (w *ActivityWatcher) consumeEvents() {
	defer w.wg.Done()
	for ev := range w.source.Events() {
		w.handleEvent(ev)
	}
}

// handleEvent applies the debounce, invalidation, and promotion rules
// for one filesystem event
func (w *ActivityWatcher) handleEvent(ev Event) {
	ext := strings.ToLower(filepath.Ext(ev.Path))
	if !sourceExtensions[ext] {
		return
	}

	w.mu.Lock()
	state := w.stateForPathLocked(ev.Path)
	if state == nil {
		// Paths under no tracked application never enter the
		// debounce map, so it stays bounded by tracked activity
		w.mu.Unlock()
		return
	}

	if last, ok := w.lastSeen[ev.Path]; ok && ev.Timestamp.Sub(last) < w.opts.Debounce {
		w.mu.Unlock()
		return
	}
	w.lastSeen[ev.Path] = ev.Timestamp

	state.LastActivity = ev.Timestamp
	state.FileChangeCount++
	state.Cached = false
	w.applyPromotionLocked(state, ev.Timestamp)
	app := state.Name
	w.mu.Unlock()

	// Cache invalidation happens outside the state lock; the cache
	// index serializes its own writes
	if err := w.cache.ClearApp(app); err != nil {
		w.logger.Warn("Cache invalidation failed", map[string]interface{}{
			"app": app, "error": err.Error(),
		})
	}
}

// stateForPathLocked resolves the application owning a changed path
func (w *ActivityWatcher) stateForPathLocked(path string) *ApplicationState {
	for _, s := range w.states {
		rel, err := filepath.Rel(s.Path, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return s
		}
	}
	return nil
}

// applyPromotionLocked promotes one step at a time: background to
// queued at the threshold, queued to immediate at twice the
// threshold. The counter resets on every transition.
func (w *ActivityWatcher) applyPromotionLocked(s *ApplicationState, now time.Time) {
	threshold := w.opts.PromotionFileThreshold

	switch {
	case s.Tier == TierBackground && s.FileChangeCount >= threshold:
		w.transitionLocked(s, TierQueued, now, true)
	case s.Tier == TierQueued && s.FileChangeCount >= 2*threshold:
		w.transitionLocked(s, TierImmediate, now, true)
	}
}

func (w *ActivityWatcher) transitionLocked(s *ApplicationState, to Tier, now time.Time, promotion bool) {
	from := s.Tier
	s.Tier = to
	s.FileChangeCount = 0
	t := now
	if promotion {
		s.PromotedAt = &t
	} else {
		s.DemotedAt = &t
	}

	w.logger.Info("Tier transition", map[string]interface{}{
		"app":  s.Name,
		"from": string(from),
		"to":   string(to),
	})
}

// monitorLoop periodically applies the inactivity demotion rules. It
// sleeps in bounded increments and re-checks the stop signal.
func (w *ActivityWatcher) monitorLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			w.checkInactivity(now)
			w.pruneDebounce(now)
		case <-w.stopCh:
			return
		}
	}
}

// pruneDebounce drops suppression entries past the debounce window so
// the map does not grow without bound on long watch runs
func (w *ActivityWatcher) pruneDebounce(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, last := range w.lastSeen {
		if now.Sub(last) >= w.opts.Debounce {
			delete(w.lastSeen, path)
		}
	}
}

// checkInactivity demotes one step per pass: immediate to queued
// after the immediate timeout, queued to background after the queued
// timeout
func (w *ActivityWatcher) checkInactivity(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range w.states {
		idle := now.Sub(s.LastActivity)
		switch {
		case s.Tier == TierImmediate && idle > w.opts.ImmediateTimeout:
			w.transitionLocked(s, TierQueued, now, false)
		case s.Tier == TierQueued && idle > w.opts.QueuedTimeout:
			w.transitionLocked(s, TierBackground, now, false)
		}
	}
}
