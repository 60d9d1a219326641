package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wkb/internal/config"
	"wkb/internal/crawler"
	"wkb/internal/fingerprint"
	"wkb/internal/logging"
	"wkb/internal/orchestrator"
	"wkb/internal/schema"
	"wkb/internal/sink"
	"wkb/internal/storage"
	"wkb/internal/topology"
	"wkb/internal/watcher"
)

// stack bundles the wired components for one command invocation
type stack struct {
	cfg     *config.Config
	logger  *logging.Logger
	db      *storage.DB
	cache   *storage.FingerprintCache
	sink    *sink.FileSink
	scanner *topology.Scanner
	watcher *watcher.ActivityWatcher
	orch    *orchestrator.Orchestrator
}

// mustGetWorkspace resolves and validates the --workspace flag or
// exits on error.
func mustGetWorkspace() string {
	abs, err := filepath.Abs(workspaceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving workspace path: %v\n", err)
		os.Exit(1)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: workspace %s is not a directory\n", abs)
		os.Exit(1)
	}
	return abs
}

func newLogger(cfg *config.Config) *logging.Logger {
	format := cfg.Logging.Format
	if formatFlag == "json" {
		format = "json"
	}
	return logging.NewLogger(logging.Config{
		Format: logging.Format(format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})
}

// mustBuildStack wires the full component stack for the workspace or
// exits on error. When withWatcher is set, an fsnotify-backed watcher
// is created; on platforms where that fails the stack degrades to a
// no-op source with a warning.
func mustBuildStack(workspace string, withWatcher bool) *stack {
	cfg, err := config.LoadConfig(workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	stateDir := filepath.Join(workspace, ".wkb")
	db, err := storage.Open(stateDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache index: %v\n", err)
		os.Exit(1)
	}

	cache, err := storage.NewFingerprintCache(db, filepath.Join(stateDir, "cache"), storage.Options{
		MaxSizeMB: cfg.Cache.MaxSizeMB,
		TTLDays:   cfg.Cache.TTLDays,
	}, logger)
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Error creating cache: %v\n", err)
		os.Exit(1)
	}

	fileSink, err := sink.NewFileSink(stateDir, logger)
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Error creating results sink: %v\n", err)
		os.Exit(1)
	}

	fps := fingerprint.NewComputer(logger)

	var w *watcher.ActivityWatcher
	if withWatcher && cfg.Watch.Enabled {
		source, err := watcher.NewFsnotifySource()
		if err != nil {
			logger.Warn("Filesystem events unavailable, watching degraded", map[string]interface{}{
				"error": err.Error(),
			})
			source = watcher.NewNoopSource()
		}
		w = watcher.New(source, cache, watcher.Options{
			PromotionFileThreshold: cfg.Watch.PromotionFileThreshold,
			ImmediateTimeout:       time.Duration(cfg.Watch.ImmediateTimeoutMin) * time.Minute,
			QueuedTimeout:          time.Duration(cfg.Watch.QueuedTimeoutMin) * time.Minute,
			Debounce:               time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
			MonitorInterval:        time.Duration(cfg.Watch.MonitorIntervalSec) * time.Second,
		}, logger)
	}

	scanner := topology.NewScanner(logger)
	deps := orchestrator.Deps{
		Scanner:      scanner,
		Crawler:      crawler.New(workspace, cache, fps, logger),
		Schema:       schema.NewEngine(logger),
		Cache:        cache,
		Fingerprints: fps,
		Sink:         fileSink,
		Logger:       logger.WithComponent("orchestrator"),
	}
	if w != nil {
		deps.Tracker = w
	}

	depth := storage.ShallowDepth
	if cfg.Depth == "deep" {
		depth = storage.DeepDepth
	}
	orch := orchestrator.New(orchestrator.Options{
		WorkspaceRoot: workspace,
		Depth:         depth,
	}, deps)

	return &stack{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		cache:   cache,
		sink:    fileSink,
		scanner: scanner,
		watcher: w,
		orch:    orch,
	}
}

func (s *stack) close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.sink.Close()
	s.db.Close()
}

// newContext creates the context for one command execution
func newContext() context.Context {
	return context.Background()
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
