package orchestrator

import (
	"sort"
	"time"

	"wkb/internal/topology"
	"wkb/internal/watcher"
)

// RankedApplication is one application with its assigned tier and
// normalized priority score.
type RankedApplication struct {
	Application topology.Application `json:"application"`
	Tier        watcher.Tier         `json:"tier"`
	Score       float64              `json:"score"`
}

// RankingStrategy assigns tiers and scores to the discovered
// applications. When the strategy is absent or returns an error the
// orchestrator falls back to the built-in scorer with only a logged
// warning.
type RankingStrategy interface {
	Rank(apps []topology.Application) ([]RankedApplication, error)
}

// ActivitySignals carries optional editor or session signals into the
// built-in scorer. Zero value means no signal available.
type ActivitySignals struct {
	// OpenFiles maps application name to the number of open or
	// recently interacted files in that application.
	OpenFiles map[string]int
}

const (
	immediateSlots = 3
	queuedSlots    = 3
)

// scoreApplication computes the built-in deterministic priority:
// open-file activity dominates, then recency of modification, then a
// small-application bonus, then database access.
func scoreApplication(app topology.Application, openFiles int, now time.Time) float64 {
	score := 40.0 * float64(openFiles)

	if !app.LastModified.IsZero() {
		days := int(now.Sub(app.LastModified).Hours() / 24)
		if days >= 0 && days < 7 {
			score += 30.0 * float64(7-days)
		}
	}

	sizeMB := float64(app.EstimatedSizeBytes) / (1024 * 1024)
	if bonus := 20.0 - sizeMB/10.0; bonus > 0 {
		score += bonus
	}

	if app.HasDatabaseAccess {
		score += 10.0
	}
	return score
}

// rankBuiltin scores and sorts the applications descending. Ties keep
// discovery order, which is sorted by name, so ranking is stable
// across runs. The top 3 land in the immediate tier, the next 3 in
// queued, the rest in background.
func rankBuiltin(apps []topology.Application, signals ActivitySignals, now time.Time) []RankedApplication {
	ranked := make([]RankedApplication, 0, len(apps))
	for _, app := range apps {
		ranked = append(ranked, RankedApplication{
			Application: app,
			Score:       scoreApplication(app, signals.OpenFiles[app.Name], now),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	for i := range ranked {
		switch {
		case i < immediateSlots:
			ranked[i].Tier = watcher.TierImmediate
		case i < immediateSlots+queuedSlots:
			ranked[i].Tier = watcher.TierQueued
		default:
			ranked[i].Tier = watcher.TierBackground
		}
	}
	return ranked
}
