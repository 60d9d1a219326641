package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wkb/internal/storage"
)

var (
	crawlDepth string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <application>",
	Short: "Crawl one application on demand",
	Long: `Extract entry points, structure, and configuration for one application,
bypassing tier scheduling. Deep mode adds a full file inventory,
relationship map, and database references.`,
	Args: cobra.ExactArgs(1),
	Run:  runCrawl,
}

func init() {
	crawlCmd.Flags().StringVar(&crawlDepth, "depth", "", "Crawl depth (shallow, deep)")
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) {
	start := time.Now()
	appName := args[0]
	workspace := mustGetWorkspace()
	s := mustBuildStack(workspace, false)
	defer s.close()

	depth := s.cfg.Depth
	if crawlDepth != "" {
		depth = crawlDepth
	}
	if depth != "shallow" && depth != "deep" {
		fmt.Fprintf(os.Stderr, "Error: depth must be \"shallow\" or \"deep\"\n")
		os.Exit(1)
	}

	d := storage.ShallowDepth
	if depth == "deep" {
		d = storage.DeepDepth
	}

	result, err := s.orch.LoadApplication(newContext(), appName, d)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error crawling %s: %v\n", appName, err)
		os.Exit(1)
	}

	if formatFlag == "json" {
		printJSON(result.Context)
		return
	}

	ctx := result.Context
	cacheNote := "fresh crawl"
	if result.CacheHit {
		cacheNote = "cache hit"
	}
	fmt.Printf("Application: %s (%s, %s)\n", ctx.Application, ctx.Depth, cacheNote)
	fmt.Printf("Fingerprint: %s\n", ctx.Fingerprint)
	if len(ctx.EntryPoints) > 0 {
		fmt.Printf("Entry points: %s\n", strings.Join(ctx.EntryPoints, ", "))
	}
	fmt.Printf("Top-level directories: %d  Config files: %d\n",
		len(ctx.Structure), len(ctx.Configuration))
	if ctx.Depth == storage.DeepDepth {
		fmt.Printf("Files: %d  Database references: %d\n",
			len(ctx.FileInventory), len(ctx.DatabaseReferences))
	}

	shared := s.orch.SharedSchema()
	if len(shared.Tables) > 0 {
		fmt.Printf("Tables inferred: %d\n", len(shared.Tables))
	}
	fmt.Printf("\n(Crawl took %dms)\n", time.Since(start).Milliseconds())
}
