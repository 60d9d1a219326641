package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the crawl cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts, size, and hit totals",
	Run:   runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [application]",
	Short: "Clear cached contexts for one application, or all of them",
	Args:  cobra.MaximumNArgs(1),
	Run:   runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) {
	workspace := mustGetWorkspace()
	s := mustBuildStack(workspace, false)
	defer s.close()

	stats, err := s.cache.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading cache stats: %v\n", err)
		os.Exit(1)
	}

	if formatFlag == "json" {
		printJSON(stats)
		return
	}

	fmt.Printf("Entries:  %d (%d expired)\n", stats.Entries, stats.Expired)
	fmt.Printf("Size:     %.1fMB of %dMB\n",
		float64(stats.TotalSizeBytes)/(1024*1024), s.cfg.Cache.MaxSizeMB)
	fmt.Printf("Hits:     %d\n", stats.TotalHits)
}

func runCacheClear(cmd *cobra.Command, args []string) {
	workspace := mustGetWorkspace()
	s := mustBuildStack(workspace, false)
	defer s.close()

	if len(args) == 1 {
		if err := s.cache.ClearApp(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing cache for %s: %v\n", args[0], err)
			os.Exit(1)
		}
		fmt.Printf("Cleared cache for %s\n", args[0])
		return
	}

	if err := s.cache.ClearAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Error clearing cache: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Cleared all cache entries")
}
