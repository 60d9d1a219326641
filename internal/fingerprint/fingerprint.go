// Package fingerprint computes content-derived identifiers used to
// validate cached application data.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"wkb/internal/logging"
)

const (
	// UnknownFingerprint is the sentinel returned when every strategy
	// fails. It never matches a stored fingerprint, so it forces a
	// cache miss rather than risking a stale hit.
	UnknownFingerprint = "unknown"

	// gitTimeout bounds the git subprocess
	gitTimeout = 5 * time.Second

	// maxSampledFiles caps the mtime fallback sample
	maxSampledFiles = 50
)

// Strategy computes a fingerprint for an application root. It returns
// ok=false to signal "try the next strategy" rather than an error;
// failure of one strategy is not failure of the computation.
type Strategy interface {
	Name() string
	Compute(appRoot string) (fingerprint string, ok bool)
}

// Computer tries an ordered list of strategies and falls back to the
// unknown sentinel when all of them decline.
type Computer struct {
	strategies []Strategy
	logger     *logging.Logger
}

// NewComputer creates a Computer with the default strategy chain:
// git commit hash, then sampled mtime hash.
func NewComputer(logger *logging.Logger) *Computer {
	return &Computer{
		strategies: []Strategy{
			&gitStrategy{},
			&mtimeStrategy{},
		},
		logger: logger,
	}
}

// Compute returns the first successful strategy's fingerprint, or the
// unknown sentinel. It never returns an error.
func (c *Computer) Compute(appRoot string) string {
	for _, s := range c.strategies {
		if fp, ok := s.Compute(appRoot); ok {
			return fp
		}
		c.logger.Debug("Fingerprint strategy declined", map[string]interface{}{
			"strategy": s.Name(),
			"appRoot":  appRoot,
		})
	}

	c.logger.Warn("All fingerprint strategies failed, forcing cache miss", map[string]interface{}{
		"appRoot": appRoot,
	})
	return UnknownFingerprint
}

// gitStrategy fingerprints from the last commit touching the
// application, bounded by a short subprocess timeout.
type gitStrategy struct{}

func (s *gitStrategy) Name() string { return "git" }

func (s *gitStrategy) Compute(appRoot string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "log", "-1", "--format=%H %ct", "--", ".")
	cmd.Dir = appRoot

	output, err := cmd.Output()
	if err != nil {
		return "", false
	}

	line := strings.TrimSpace(string(output))
	if line == "" {
		// Inside a repo but no commits touch this path
		return "", false
	}

	return hashString(line), true
}

// mtimeStrategy hashes the concatenated modification timestamps of up
// to maxSampledFiles files under the application root.
type mtimeStrategy struct{}

func (s *mtimeStrategy) Name() string { return "mtime" }

func (s *mtimeStrategy) Compute(appRoot string) (string, bool) {
	var stamps []string

	err := filepath.WalkDir(appRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			name := d.Name()
			if path != appRoot && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(appRoot, path)
		if err != nil {
			rel = path
		}
		stamps = append(stamps, fmt.Sprintf("%s:%d", rel, info.ModTime().UnixNano()))
		if len(stamps) >= maxSampledFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil || len(stamps) == 0 {
		return "", false
	}

	// WalkDir order is deterministic, but sort anyway so the
	// fingerprint does not depend on traversal details.
	sort.Strings(stamps)

	return hashString(strings.Join(stamps, "\n")), true
}

// hashString computes the SHA256 hex digest of a string
func hashString(s string) string {
	h := sha256.New()
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}
