// Package sink publishes analysis results to the external knowledge
// store. The core only ever writes; it never reads results back.
package sink

import (
	"context"
	"time"
)

// Result kinds published by the orchestrator pipeline.
const (
	KindTopology           = "workspace_topology"
	KindApplicationContext = "application_context"
	KindSharedSchema       = "shared_schema"
)

// Result is one analysis result handed to the knowledge store.
type Result struct {
	ID         string      `json:"id"`
	Scope      string      `json:"scope"`
	Namespace  string      `json:"namespace"`
	Kind       string      `json:"kind"`
	Data       interface{} `json:"data"`
	Confidence float64     `json:"confidence"`
	Tags       []string    `json:"tags,omitempty"`
	StoredAt   time.Time   `json:"storedAt"`
}

// PatternSink stores analysis results. Implementations must be safe
// for concurrent use.
type PatternSink interface {
	Store(ctx context.Context, result Result) error
}
