// Package orchestrator composes the topology scan, prioritization,
// tiered crawling, and schema merge into one pipeline run.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wkb/internal/crawler"
	"wkb/internal/fingerprint"
	"wkb/internal/logging"
	"wkb/internal/schema"
	"wkb/internal/sink"
	"wkb/internal/storage"
	"wkb/internal/topology"
	"wkb/internal/watcher"
	"wkb/internal/wkberrors"
)

// TopologyLookup retrieves a previously stored topology so a run can
// skip rescanning. A false return falls through to a fresh scan.
type TopologyLookup interface {
	PriorTopology(workspaceRoot string) (*topology.Result, bool)
}

// ActivityTracker is the watcher surface the orchestrator drives. Nil
// means watching is disabled and tier state is not maintained.
type ActivityTracker interface {
	Track(name, path string, tier watcher.Tier) error
	SetCached(name string, cached bool)
}

// Deps are the collaborators for an orchestrator. Scanner, Crawler,
// Schema, Cache, Fingerprints, Sink, and Logger are required; Tracker,
// Lookup, and Strategy are optional.
type Deps struct {
	Scanner      *topology.Scanner
	Crawler      *crawler.Crawler
	Schema       *schema.Engine
	Cache        *storage.FingerprintCache
	Fingerprints *fingerprint.Computer
	Sink         sink.PatternSink
	Logger       *logging.Logger

	Tracker  ActivityTracker
	Lookup   TopologyLookup
	Strategy RankingStrategy
}

// Options control one orchestrator's runs.
type Options struct {
	WorkspaceRoot string
	Depth         storage.Depth
	Signals       ActivitySignals
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	Topology   *topology.Result          `json:"topology"`
	Ranked     []RankedApplication       `json:"ranked"`
	Crawled    []*crawler.Result         `json:"-"`
	Prewarmed  []string                  `json:"prewarmed"`
	Background []string                  `json:"background"`
	Failures   []*wkberrors.CrawlFailure `json:"failures,omitempty"`
}

// Orchestrator runs the scan, rank, crawl, merge pipeline and owns the
// shared cross-application schema.
type Orchestrator struct {
	opts Options
	deps Deps

	mu        sync.Mutex
	shared    *schema.SharedSchema
	processed map[string]bool
}

func New(opts Options, deps Deps) *Orchestrator {
	if opts.Depth == "" {
		opts.Depth = storage.ShallowDepth
	}
	return &Orchestrator{
		opts:      opts,
		deps:      deps,
		shared:    schema.NewSharedSchema(),
		processed: make(map[string]bool),
	}
}

// Run executes one full pipeline pass. Topology always completes
// before ranking, ranking before any crawl. Per-application failures
// are recorded and never abort the run.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	logger := o.deps.Logger

	topo, fromPrior := o.resolveTopology()
	if topo == nil {
		fresh, err := o.deps.Scanner.Scan(o.opts.WorkspaceRoot)
		if err != nil {
			return nil, wkberrors.New(wkberrors.ScanFailed, "topology scan failed", err)
		}
		topo = fresh
	}
	logger.Info("Topology resolved", map[string]interface{}{
		"workspaceType": topo.WorkspaceType,
		"applications":  len(topo.Applications),
		"fromPrior":     fromPrior,
	})

	o.publish(ctx, sink.Result{
		Scope:      "workspace",
		Namespace:  filepath.Base(o.opts.WorkspaceRoot),
		Kind:       sink.KindTopology,
		Data:       topo,
		Confidence: 1.0,
		Tags:       []string{topo.WorkspaceType},
	})

	ranked := o.rank(topo.Applications)

	if o.deps.Tracker != nil {
		for _, r := range ranked {
			if err := o.deps.Tracker.Track(r.Application.Name, r.Application.RootPath, r.Tier); err != nil {
				logger.Warn("Tracking registration failed", map[string]interface{}{
					"app": r.Application.Name, "error": err.Error(),
				})
			}
		}
	}

	result := &RunResult{Topology: topo, Ranked: ranked}

	for _, r := range ranked {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		switch r.Tier {
		case watcher.TierImmediate:
			crawled, failure := o.crawlAndMerge(ctx, r.Application, o.opts.Depth)
			if failure != nil {
				result.Failures = append(result.Failures, failure)
				continue
			}
			result.Crawled = append(result.Crawled, crawled)
		case watcher.TierQueued:
			o.prewarm(r.Application)
			result.Prewarmed = append(result.Prewarmed, r.Application.Name)
		default:
			result.Background = append(result.Background, r.Application.Name)
		}
	}

	o.publishSchema(ctx)

	logger.Info("Pipeline run complete", map[string]interface{}{
		"crawled":    len(result.Crawled),
		"prewarmed":  len(result.Prewarmed),
		"background": len(result.Background),
		"failures":   len(result.Failures),
	})
	return result, nil
}

// LoadApplication crawls one application on demand, bypassing tier
// scheduling. Used when a background-tier application is requested
// directly. An empty depth uses the configured default.
func (o *Orchestrator) LoadApplication(ctx context.Context, name string, depth storage.Depth) (*crawler.Result, error) {
	if depth == "" {
		depth = o.opts.Depth
	}
	appRoot := filepath.Join(o.opts.WorkspaceRoot, name)
	if info, err := os.Stat(appRoot); err != nil || !info.IsDir() {
		return nil, wkberrors.New(wkberrors.AppNotFound, fmt.Sprintf("application %q not found in workspace", name), err)
	}

	crawled, failure := o.crawlAndMerge(ctx, topology.Application{
		Name:     name,
		RootPath: appRoot,
	}, depth)
	if failure != nil {
		return nil, wkberrors.New(failure.Code, failure.Message, nil)
	}
	o.publishSchema(ctx)
	return crawled, nil
}

// SharedSchema returns the merged cross-application schema built so
// far. Callers must treat it as read-only.
func (o *Orchestrator) SharedSchema() *schema.SharedSchema {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shared
}

func (o *Orchestrator) resolveTopology() (*topology.Result, bool) {
	if o.deps.Lookup == nil {
		return nil, false
	}
	if prior, ok := o.deps.Lookup.PriorTopology(o.opts.WorkspaceRoot); ok && prior != nil {
		return prior, true
	}
	return nil, false
}

// rank applies the external strategy when present, falling back to the
// built-in scorer on absence or error. The fallback is silent to the
// caller beyond the warning log.
func (o *Orchestrator) rank(apps []topology.Application) []RankedApplication {
	if o.deps.Strategy != nil {
		ranked, err := o.deps.Strategy.Rank(apps)
		if err == nil {
			return ranked
		}
		o.deps.Logger.Warn("Ranking strategy failed, using built-in scorer", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return rankBuiltin(apps, o.opts.Signals, time.Now())
}

// crawlAndMerge crawls one application, merges its schema evidence,
// and publishes the context. Failures come back as structured results.
func (o *Orchestrator) crawlAndMerge(ctx context.Context, app topology.Application, depth storage.Depth) (*crawler.Result, *wkberrors.CrawlFailure) {
	crawled, err := o.deps.Crawler.Crawl(app.Name, depth)
	if err != nil {
		o.deps.Logger.Error("Application crawl failed", map[string]interface{}{
			"app": app.Name, "error": err.Error(),
		})
		return nil, wkberrors.NewCrawlFailure(app.Name, wkberrors.CrawlFailed, err)
	}

	appRoot := app.RootPath
	if appRoot == "" {
		appRoot = filepath.Join(o.opts.WorkspaceRoot, app.Name)
	}
	inf, err := o.deps.Schema.Infer(appRoot)
	if err != nil {
		// Schema evidence is best effort; the crawl result stands
		o.deps.Logger.Warn("Schema inference failed", map[string]interface{}{
			"app": app.Name, "error": err.Error(),
		})
	} else {
		o.mu.Lock()
		o.shared.Merge(app.Name, inf)
		o.mu.Unlock()
	}

	o.mu.Lock()
	o.processed[app.Name] = true
	o.mu.Unlock()

	if o.deps.Tracker != nil {
		o.deps.Tracker.SetCached(app.Name, true)
	}

	cacheTag := "cache-miss"
	if crawled.CacheHit {
		cacheTag = "cache-hit"
	}
	o.publish(ctx, sink.Result{
		Scope:      "workspace",
		Namespace:  app.Name,
		Kind:       sink.KindApplicationContext,
		Data:       crawled.Context,
		Confidence: 1.0,
		Tags:       []string{string(depth), cacheTag},
	})
	return crawled, nil
}

// prewarm validates the queued application's cache entry without a
// full crawl. A hit refreshes its access metadata; a miss is left for
// the eventual on-demand load.
func (o *Orchestrator) prewarm(app topology.Application) {
	appRoot := app.RootPath
	if appRoot == "" {
		appRoot = filepath.Join(o.opts.WorkspaceRoot, app.Name)
	}
	fp := o.deps.Fingerprints.Compute(appRoot)
	_, hit, err := o.deps.Cache.Get(app.Name, o.opts.Depth, fp)
	if err != nil {
		o.deps.Logger.Warn("Pre-warm lookup failed", map[string]interface{}{
			"app": app.Name, "error": err.Error(),
		})
		return
	}
	if o.deps.Tracker != nil {
		o.deps.Tracker.SetCached(app.Name, hit)
	}
	o.deps.Logger.Debug("Pre-warmed queued application", map[string]interface{}{
		"app": app.Name, "cached": hit,
	})
}

// publishSchema pushes the current shared-schema snapshot to the sink.
// Snapshot confidence is the highest table confidence seen.
func (o *Orchestrator) publishSchema(ctx context.Context) {
	o.mu.Lock()
	snapshot := o.shared
	confidence := 0.0
	for _, t := range snapshot.Tables {
		if t.Confidence > confidence {
			confidence = t.Confidence
		}
	}
	contributing := len(snapshot.ContributingApps)
	o.mu.Unlock()

	if contributing == 0 {
		return
	}
	o.publish(ctx, sink.Result{
		Scope:      "workspace",
		Namespace:  filepath.Base(o.opts.WorkspaceRoot),
		Kind:       sink.KindSharedSchema,
		Data:       snapshot,
		Confidence: confidence,
		Tags:       []string{fmt.Sprintf("apps:%d", contributing)},
	})
}

func (o *Orchestrator) publish(ctx context.Context, result sink.Result) {
	if o.deps.Sink == nil {
		return
	}
	if err := o.deps.Sink.Store(ctx, result); err != nil {
		o.deps.Logger.Warn("Sink store failed", map[string]interface{}{
			"kind": result.Kind, "error": err.Error(),
		})
	}
}
