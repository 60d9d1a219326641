package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wkb/internal/watcher"
)

var (
	watchInterval int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline and keep watching for activity",
	Long: `Run one full pipeline pass, then stay in the foreground consuming
filesystem events. Applications promoted to the immediate tier by file
activity are re-crawled automatically. Stop with Ctrl-C.`,
	Run: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchInterval, "recrawl-interval", 15,
		"Seconds between checks for promoted applications")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	workspace := mustGetWorkspace()
	s := mustBuildStack(workspace, true)
	defer s.close()

	if s.watcher == nil {
		fmt.Fprintln(os.Stderr, "Error: watching is disabled in configuration")
		os.Exit(1)
	}

	ctx := newContext()
	result, err := s.orch.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running pipeline: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Watching %d applications in %s (Ctrl-C to stop)\n",
		len(result.Ranked), workspace)
	if !s.watcher.Available() {
		fmt.Println("Note: filesystem events unavailable, running degraded (no promotion)")
	}

	s.watcher.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopping")
			return
		case <-ticker.C:
			recrawlPromoted(s)
		}
	}
}

// recrawlPromoted re-crawls applications that file activity promoted
// into the immediate tier since their cache was invalidated
func recrawlPromoted(s *stack) {
	for _, state := range s.watcher.States() {
		if state.Tier != watcher.TierImmediate || state.Cached {
			continue
		}
		fmt.Printf("Re-crawling %s (promoted by activity)\n", state.Name)
		if _, err := s.orch.LoadApplication(newContext(), state.Name, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Re-crawl of %s failed: %v\n", state.Name, err)
		}
	}
}
