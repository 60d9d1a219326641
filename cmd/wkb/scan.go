package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	scanTopologyOnly bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the workspace and crawl the highest-priority applications",
	Long: `Discover the applications in the workspace, rank them into tiers, crawl
the immediate tier eagerly, pre-warm the queued tier, and merge schema
evidence across applications. With --topology-only, stop after discovery.`,
	Run: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanTopologyOnly, "topology-only", false,
		"Only discover topology, skip crawling")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) {
	start := time.Now()
	workspace := mustGetWorkspace()
	s := mustBuildStack(workspace, false)
	defer s.close()

	if scanTopologyOnly {
		runTopologyOnly(s, workspace, start)
		return
	}

	result, err := s.orch.Run(newContext())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running pipeline: %v\n", err)
		os.Exit(1)
	}

	if formatFlag == "json" {
		printJSON(result)
		return
	}

	topo := result.Topology
	fmt.Printf("Workspace: %s (%s)\n", workspace, topo.WorkspaceType)
	fmt.Printf("Applications: %d", len(topo.Applications))
	if len(topo.SharedLibraries) > 0 {
		fmt.Printf("  Shared libraries: %s", strings.Join(topo.SharedLibraries, ", "))
	}
	fmt.Println()

	for _, r := range result.Ranked {
		fmt.Printf("  %-25s %-10s score=%.0f  %s\n",
			r.Application.Name, r.Tier, r.Score,
			strings.Join(r.Application.TechnologyStack, ","))
	}

	fmt.Printf("\nCrawled: %d  Pre-warmed: %d  Background: %d  Failures: %d\n",
		len(result.Crawled), len(result.Prewarmed), len(result.Background), len(result.Failures))
	for _, f := range result.Failures {
		fmt.Printf("  FAILED %s: %s\n", f.Application, f.Message)
	}

	shared := s.orch.SharedSchema()
	if len(shared.Tables) > 0 {
		fmt.Printf("Schema: %d tables from %d applications\n",
			len(shared.Tables), len(shared.ContributingApps))
	}
	fmt.Printf("\n(Scan took %dms)\n", time.Since(start).Milliseconds())
}

func runTopologyOnly(s *stack, workspace string, start time.Time) {
	topo, err := s.scanner.Scan(workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning workspace: %v\n", err)
		os.Exit(1)
	}

	if formatFlag == "json" {
		printJSON(topo)
		return
	}

	fmt.Printf("Workspace: %s (%s)\n", workspace, topo.WorkspaceType)
	for _, app := range topo.Applications {
		fmt.Printf("  %-25s %-20s ~%d files, ~%.1fMB\n",
			app.Name, app.DetectionMarker, app.EstimatedFileCount,
			float64(app.EstimatedSizeBytes)/(1024*1024))
	}
	if len(topo.SharedLibraries) > 0 {
		fmt.Printf("Shared libraries: %s\n", strings.Join(topo.SharedLibraries, ", "))
	}
	fmt.Printf("\n(Scan took %dms)\n", time.Since(start).Milliseconds())
}
