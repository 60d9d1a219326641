package sink

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySink collects results in memory. Used in tests and as the
// default when no file sink is configured.
type MemorySink struct {
	mu      sync.Mutex
	results []Result
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Store(ctx context.Context, result Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.StoredAt.IsZero() {
		result.StoredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

// Results returns a snapshot copy.
func (s *MemorySink) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// ByKind returns the stored results of one kind, in store order.
func (s *MemorySink) ByKind(kind string) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Result
	for _, r := range s.results {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}
