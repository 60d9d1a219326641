package watcher

import "time"

// Tier determines how eagerly an application is crawled
type Tier string

const (
	// TierImmediate applications are crawled eagerly
	TierImmediate Tier = "immediate"
	// TierQueued applications have cache metadata pre-warmed only
	TierQueued Tier = "queued"
	// TierBackground applications are loaded on demand
	TierBackground Tier = "background"
)

// ApplicationState tracks activity-driven scheduling state for one
// application. States are owned exclusively by the ActivityWatcher;
// every other component reads snapshots only.
type ApplicationState struct {
	Name            string     `json:"name"`
	Path            string     `json:"path"`
	Tier            Tier       `json:"tier"`
	LastActivity    time.Time  `json:"lastActivity"`
	Cached          bool       `json:"cached"`
	FileChangeCount int        `json:"fileChangeCount"`
	PromotedAt      *time.Time `json:"promotedAt,omitempty"`
	DemotedAt       *time.Time `json:"demotedAt,omitempty"`
}

// clone returns a copy safe to hand outside the watcher
func (s *ApplicationState) clone() ApplicationState {
	c := *s
	if s.PromotedAt != nil {
		t := *s.PromotedAt
		c.PromotedAt = &t
	}
	if s.DemotedAt != nil {
		t := *s.DemotedAt
		c.DemotedAt = &t
	}
	return c
}
