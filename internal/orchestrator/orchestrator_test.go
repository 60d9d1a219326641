package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
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

type fakeTracker struct {
	tracked map[string]watcher.Tier
	cached  map[string]bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		tracked: make(map[string]watcher.Tier),
		cached:  make(map[string]bool),
	}
}

func (f *fakeTracker) Track(name, path string, tier watcher.Tier) error {
	f.tracked[name] = tier
	return nil
}

func (f *fakeTracker) SetCached(name string, cached bool) {
	f.cached[name] = cached
}

type fakeStrategy struct {
	ranked []RankedApplication
	err    error
}

func (f *fakeStrategy) Rank(apps []topology.Application) ([]RankedApplication, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ranked, nil
}

type fakeLookup struct {
	topo *topology.Result
}

func (f *fakeLookup) PriorTopology(root string) (*topology.Result, bool) {
	return f.topo, f.topo != nil
}

// writeApp creates a minimal application directory with a marker file
func writeApp(t *testing.T, workspace, name string, extra map[string]string) {
	t.Helper()
	root := filepath.Join(workspace, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"package.json": `{"name": "` + name + `"}`,
		"index.js":     "module.exports = {};\n",
	}
	for k, v := range extra {
		files[k] = v
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newOrchestrator(t *testing.T, workspace string, deps func(*Deps)) (*Orchestrator, *sink.MemorySink, *fakeTracker) {
	t.Helper()
	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})

	stateDir := filepath.Join(workspace, ".wkb")
	db, err := storage.Open(stateDir, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cache, err := storage.NewFingerprintCache(db, filepath.Join(stateDir, "cache"), storage.Options{}, logger)
	if err != nil {
		t.Fatal(err)
	}

	fps := fingerprint.NewComputer(logger)
	mem := sink.NewMemorySink()
	tracker := newFakeTracker()

	d := Deps{
		Scanner:      topology.NewScanner(logger),
		Crawler:      crawler.New(workspace, cache, fps, logger),
		Schema:       schema.NewEngine(logger),
		Cache:        cache,
		Fingerprints: fps,
		Sink:         mem,
		Logger:       logger,
		Tracker:      tracker,
	}
	if deps != nil {
		deps(&d)
	}

	o := New(Options{WorkspaceRoot: workspace, Depth: storage.ShallowDepth}, d)
	return o, mem, tracker
}

func TestScoreApplication(t *testing.T) {
	now := time.Now()
	base := topology.Application{
		Name:               "App",
		EstimatedSizeBytes: 10 * 1024 * 1024, // 10MB: +19 size bonus
		LastModified:       now.Add(-30 * 24 * time.Hour),
	}

	tests := []struct {
		name      string
		mutate    func(*topology.Application)
		openFiles int
		want      float64
	}{
		{"size bonus only", nil, 0, 19},
		{"database access", func(a *topology.Application) { a.HasDatabaseAccess = true }, 0, 29},
		{"modified today", func(a *topology.Application) { a.LastModified = now }, 0, 19 + 210},
		{"modified 3 days ago", func(a *topology.Application) { a.LastModified = now.Add(-3 * 24 * time.Hour) }, 0, 19 + 120},
		{"open files dominate", nil, 2, 19 + 80},
		{"huge app no size bonus", func(a *topology.Application) { a.EstimatedSizeBytes = 500 * 1024 * 1024 }, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := base
			if tt.mutate != nil {
				tt.mutate(&app)
			}
			got := scoreApplication(app, tt.openFiles, now)
			if got != tt.want {
				t.Errorf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRankBuiltinTiersAndStability(t *testing.T) {
	now := time.Now()
	var apps []topology.Application
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		apps = append(apps, topology.Application{Name: name})
	}

	ranked := rankBuiltin(apps, ActivitySignals{}, now)
	if len(ranked) != 7 {
		t.Fatalf("len = %d, want 7", len(ranked))
	}

	// Equal scores keep discovery order
	for i, app := range apps {
		if ranked[i].Application.Name != app.Name {
			t.Errorf("ranked[%d] = %s, want %s (stable ties)", i, ranked[i].Application.Name, app.Name)
		}
	}

	wantTiers := []watcher.Tier{
		watcher.TierImmediate, watcher.TierImmediate, watcher.TierImmediate,
		watcher.TierQueued, watcher.TierQueued, watcher.TierQueued,
		watcher.TierBackground,
	}
	for i, want := range wantTiers {
		if ranked[i].Tier != want {
			t.Errorf("ranked[%d].Tier = %s, want %s", i, ranked[i].Tier, want)
		}
	}
}

func TestRankBuiltinOpenFilesPromote(t *testing.T) {
	apps := []topology.Application{
		{Name: "quiet1"}, {Name: "quiet2"}, {Name: "quiet3"}, {Name: "active"},
	}
	signals := ActivitySignals{OpenFiles: map[string]int{"active": 3}}

	ranked := rankBuiltin(apps, signals, time.Now())
	if ranked[0].Application.Name != "active" {
		t.Errorf("top ranked = %s, want active", ranked[0].Application.Name)
	}
	if ranked[0].Tier != watcher.TierImmediate {
		t.Errorf("active tier = %s, want immediate", ranked[0].Tier)
	}
}

func TestRunPipeline(t *testing.T) {
	workspace := t.TempDir()
	for _, name := range []string{"alpha", "beta", "gamma", "delta"} {
		writeApp(t, workspace, name, nil)
	}
	// Schema evidence inside an immediate-tier application
	writeApp(t, workspace, "alpha", map[string]string{
		"OrderGateway.cfc": `<cfquery name="q">SELECT order_id, total FROM orders</cfquery>`,
	})

	o, mem, tracker := newOrchestrator(t, workspace, nil)
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(result.Topology.Applications); got != 4 {
		t.Fatalf("topology found %d applications, want 4", got)
	}
	if len(result.Crawled) != 3 {
		t.Errorf("crawled %d, want 3 immediate", len(result.Crawled))
	}
	if len(result.Prewarmed) != 1 {
		t.Errorf("prewarmed %d, want 1 queued", len(result.Prewarmed))
	}
	if len(result.Failures) != 0 {
		t.Errorf("failures = %v, want none", result.Failures)
	}

	// Every ranked application is registered with the tracker
	if len(tracker.tracked) != 4 {
		t.Errorf("tracked %d applications, want 4", len(tracker.tracked))
	}

	if got := len(mem.ByKind(sink.KindTopology)); got != 1 {
		t.Errorf("topology results in sink = %d, want 1", got)
	}
	if got := len(mem.ByKind(sink.KindApplicationContext)); got != 3 {
		t.Errorf("context results in sink = %d, want 3", got)
	}
	if got := len(mem.ByKind(sink.KindSharedSchema)); got != 1 {
		t.Errorf("schema results in sink = %d, want 1", got)
	}

	shared := o.SharedSchema()
	if _, ok := shared.Tables["orders"]; !ok {
		t.Error("shared schema missing orders table from alpha")
	}
}

func TestRunSecondPassHitsCache(t *testing.T) {
	workspace := t.TempDir()
	writeApp(t, workspace, "solo", nil)

	o, _, _ := newOrchestrator(t, workspace, nil)
	first, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Crawled) != 1 || first.Crawled[0].CacheHit {
		t.Fatalf("first crawl should miss the cache")
	}

	second, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Crawled) != 1 || !second.Crawled[0].CacheHit {
		t.Error("second crawl should hit the cache")
	}
}

func TestStrategyFallbackOnError(t *testing.T) {
	workspace := t.TempDir()
	writeApp(t, workspace, "only", nil)

	o, _, _ := newOrchestrator(t, workspace, func(d *Deps) {
		d.Strategy = &fakeStrategy{err: errors.New("remote ranking down")}
	})
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("fallback must not surface the strategy error: %v", err)
	}
	if len(result.Ranked) != 1 || result.Ranked[0].Tier != watcher.TierImmediate {
		t.Errorf("built-in fallback not applied: %+v", result.Ranked)
	}
}

func TestExternalStrategyRespected(t *testing.T) {
	workspace := t.TempDir()
	writeApp(t, workspace, "only", nil)

	o, mem, _ := newOrchestrator(t, workspace, func(d *Deps) {
		d.Strategy = &fakeStrategy{ranked: []RankedApplication{
			{Application: topology.Application{Name: "only"}, Tier: watcher.TierBackground, Score: 0.1},
		}}
	})
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Crawled) != 0 {
		t.Errorf("background tier must not be crawled")
	}
	if len(result.Background) != 1 {
		t.Errorf("background = %v, want [only]", result.Background)
	}
	if got := len(mem.ByKind(sink.KindApplicationContext)); got != 0 {
		t.Errorf("context results in sink = %d, want 0", got)
	}
}

func TestCrawlFailureRecordedAndRunContinues(t *testing.T) {
	workspace := t.TempDir()
	writeApp(t, workspace, "real", nil)

	// Prior topology references an application that no longer exists
	prior := &topology.Result{
		WorkspaceType: "monorepo",
		Applications: []topology.Application{
			{Name: "ghost", RootPath: filepath.Join(workspace, "ghost")},
			{Name: "real", RootPath: filepath.Join(workspace, "real")},
		},
	}
	o, _, _ := newOrchestrator(t, workspace, func(d *Deps) {
		d.Lookup = &fakeLookup{topo: prior}
	})

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("per-application failure must not abort the run: %v", err)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(result.Failures))
	}
	f := result.Failures[0]
	if f.Application != "ghost" || f.Status != "failed" {
		t.Errorf("failure = %+v", f)
	}
	if len(result.Crawled) != 1 {
		t.Errorf("crawled = %d, want 1 (real survives)", len(result.Crawled))
	}
}

func TestPriorTopologySkipsScan(t *testing.T) {
	workspace := t.TempDir()
	writeApp(t, workspace, "onDisk", nil)

	prior := &topology.Result{
		WorkspaceType: "monolithic",
		Applications:  []topology.Application{{Name: "onDisk", RootPath: filepath.Join(workspace, "onDisk")}},
	}
	o, mem, _ := newOrchestrator(t, workspace, func(d *Deps) {
		d.Lookup = &fakeLookup{topo: prior}
	})

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Topology != prior {
		t.Error("prior topology should be used verbatim")
	}
	topo := mem.ByKind(sink.KindTopology)
	if len(topo) != 1 {
		t.Fatalf("topology published %d times, want 1", len(topo))
	}
}

func TestLoadApplicationOnDemand(t *testing.T) {
	workspace := t.TempDir()
	writeApp(t, workspace, "later", map[string]string{
		"CustomerGateway.cfc": `<cfquery>SELECT customer_id FROM customers</cfquery>`,
	})

	o, mem, tracker := newOrchestrator(t, workspace, nil)
	result, err := o.LoadApplication(context.Background(), "later", "")
	if err != nil {
		t.Fatalf("LoadApplication: %v", err)
	}
	if result.Context.Application != "later" {
		t.Errorf("Application = %s", result.Context.Application)
	}
	if !tracker.cached["later"] {
		t.Error("on-demand load should mark the application cached")
	}
	if _, ok := o.SharedSchema().Tables["customers"]; !ok {
		t.Error("on-demand load should merge schema evidence")
	}
	if got := len(mem.ByKind(sink.KindApplicationContext)); got != 1 {
		t.Errorf("context results = %d, want 1", got)
	}
}

func TestLoadApplicationMissing(t *testing.T) {
	workspace := t.TempDir()
	o, _, _ := newOrchestrator(t, workspace, nil)

	_, err := o.LoadApplication(context.Background(), "nope", "")
	if err == nil {
		t.Fatal("loading a missing application should fail")
	}
	var wkbErr *wkberrors.WkbError
	if !errors.As(err, &wkbErr) || wkbErr.Code != wkberrors.AppNotFound {
		t.Errorf("error = %v, want APP_NOT_FOUND", err)
	}
}
