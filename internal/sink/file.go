package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"wkb/internal/logging"
)

// FileSink appends results as JSON lines under the state directory.
// One file per kind keeps topology, context, and schema streams
// separately greppable.
type FileSink struct {
	dir    string
	logger *logging.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileSink creates the results directory if needed.
func NewFileSink(stateDir string, logger *logging.Logger) (*FileSink, error) {
	dir := filepath.Join(stateDir, "results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}
	return &FileSink{
		dir:    dir,
		logger: logger.WithComponent("sink"),
		files:  make(map[string]*os.File),
	}, nil
}

// Store assigns an ID and timestamp if missing and appends one line.
func (s *FileSink) Store(ctx context.Context, result Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.StoredAt.IsZero() {
		result.StoredAt = time.Now().UTC()
	}

	line, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileForKind(result.Kind)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}

	s.logger.Debug("Stored analysis result", map[string]interface{}{
		"kind":      result.Kind,
		"namespace": result.Namespace,
		"id":        result.ID,
	})
	return nil
}

func (s *FileSink) fileForKind(kind string) (*os.File, error) {
	if kind == "" {
		kind = "unknown"
	}
	if f, ok := s.files[kind]; ok {
		return f, nil
	}
	path := filepath.Join(s.dir, kind+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening results file: %w", err)
	}
	s.files[kind] = f
	return f, nil
}

// Close flushes and closes all open result files.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for kind, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, kind)
	}
	return firstErr
}
