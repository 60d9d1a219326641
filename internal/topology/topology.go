// Package topology discovers the shape of a multi-application
// workspace in a single fast pass over its top-level directories.
package topology

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"wkb/internal/logging"
)

// Application is an immutable snapshot of one discovered application.
// It is re-created on every scan pass, never mutated in place.
type Application struct {
	Name               string    `json:"name"`
	RootPath           string    `json:"rootPath"`
	DetectionMarker    string    `json:"detectionMarker"`
	TechnologyStack    []string  `json:"technologyStack"`
	EstimatedSizeBytes int64     `json:"estimatedSizeBytes"`
	EstimatedFileCount int       `json:"estimatedFileCount"`
	HasTests           bool      `json:"hasTests"`
	HasDatabaseAccess  bool      `json:"hasDatabaseAccess"`
	LastModified       time.Time `json:"lastModified"`
}

// Result is the output of one topology scan
type Result struct {
	WorkspaceType   string        `json:"workspaceType"`
	Applications    []Application `json:"applications"`
	SharedLibraries []string      `json:"sharedLibraries"`
}

// Marker is a file whose presence identifies a directory as an
// application root. Markers are tested in order; the first match wins.
type Marker struct {
	FileName   string
	Technology string
}

// markerFiles is the priority-ordered detection list: application
// descriptors first, then package manifests, then build files.
var markerFiles = []Marker{
	{FileName: "Application.cfc", Technology: "cfml"},
	{FileName: "Application.cfm", Technology: "cfml"},
	{FileName: "web.config", Technology: "dotnet"},
	{FileName: "package.json", Technology: "node"},
	{FileName: "pom.xml", Technology: "java"},
	{FileName: "build.gradle", Technology: "java"},
	{FileName: "go.mod", Technology: "go"},
	{FileName: "pyproject.toml", Technology: "python"},
	{FileName: "requirements.txt", Technology: "python"},
	{FileName: "composer.json", Technology: "php"},
	{FileName: "Gemfile", Technology: "ruby"},
}

// skipDirs are never considered application roots
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"venv":         true,
	".git":         true,
}

// sharedLibNames is the exact-name allow-list for shared-code folders
var sharedLibNames = map[string]bool{
	"Common": true,
	"Shared": true,
	"Lib":    true,
	"Utils":  true,
	"Core":   true,
}

// databaseHints are filename fragments and extensions suggesting
// database access, checked against the sampled file set
var databaseHints = []string{"dao", "gateway", "repository", ".sql", "datasource"}

const (
	sampleMaxFiles   = 100
	sampleMaxSubdirs = 10
)

// Scanner performs workspace topology scans
type Scanner struct {
	logger *logging.Logger
}

// NewScanner creates a topology scanner
func NewScanner(logger *logging.Logger) *Scanner {
	return &Scanner{logger: logger.WithComponent("topology")}
}

// Scan discovers applications and shared-code folders under the
// workspace root. Only immediate subdirectories are considered; sizing
// is sampled, not counted, so the scan stays fast on large trees.
func (s *Scanner) Scan(workspaceRoot string) (*Result, error) {
	entries, err := os.ReadDir(workspaceRoot)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	hasServicesDir := false

	// Deterministic discovery order: sorted directory names
	names := make([]string, 0, len(entries))
	dirByName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		names = append(names, e.Name())
		dirByName[e.Name()] = e
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.HasPrefix(name, ".") || skipDirs[name] {
			continue
		}
		lower := strings.ToLower(name)
		if lower == "services" || lower == "microservices" {
			hasServicesDir = true
		}
		if sharedLibNames[name] {
			result.SharedLibraries = append(result.SharedLibraries, name)
			continue
		}

		dirPath := filepath.Join(workspaceRoot, name)
		marker, tech, found := s.detectMarker(dirPath)
		if !found {
			continue
		}

		app := s.buildApplication(name, dirPath, marker, tech)
		result.Applications = append(result.Applications, app)
	}

	result.WorkspaceType = classifyWorkspace(len(result.Applications), hasServicesDir)

	s.logger.Info("Topology scan complete", map[string]interface{}{
		"applications":  len(result.Applications),
		"sharedLibs":    len(result.SharedLibraries),
		"workspaceType": result.WorkspaceType,
	})

	return result, nil
}

// detectMarker tests the priority-ordered marker list against a
// directory. The first marker found wins and stops the search.
func (s *Scanner) detectMarker(dirPath string) (marker, technology string, found bool) {
	for _, m := range markerFiles {
		if _, err := os.Stat(filepath.Join(dirPath, m.FileName)); err == nil {
			return m.FileName, m.Technology, true
		}
	}
	return "", "", false
}

// buildApplication samples the application directory to estimate its
// size and detect secondary technology signals.
func (s *Scanner) buildApplication(name, dirPath, marker, tech string) Application {
	app := Application{
		Name:            name,
		RootPath:        dirPath,
		DetectionMarker: marker,
		TechnologyStack: []string{tech},
	}

	if info, err := os.Stat(dirPath); err == nil {
		app.LastModified = info.ModTime()
	}

	sample := s.sampleFiles(dirPath)
	if sample.filesSeen > 0 {
		// Extrapolate: sampled dirs stand in for all dirs
		factor := 1.0
		if sample.dirsTotal > sample.dirsVisited && sample.dirsVisited > 0 {
			factor = float64(sample.dirsTotal) / float64(sample.dirsVisited)
		}
		app.EstimatedFileCount = int(float64(sample.filesSeen) * factor)
		app.EstimatedSizeBytes = int64(float64(sample.bytesSeen) * factor)
	}
	app.HasTests = sample.hasTests
	app.HasDatabaseAccess = sample.hasDatabase
	if sample.newestMod.After(app.LastModified) {
		app.LastModified = sample.newestMod
	}

	for _, extra := range sample.technologies {
		if extra != tech {
			app.TechnologyStack = append(app.TechnologyStack, extra)
		}
	}

	return app
}

type sampleResult struct {
	filesSeen    int
	bytesSeen    int64
	dirsVisited  int
	dirsTotal    int
	hasTests     bool
	hasDatabase  bool
	newestMod    time.Time
	technologies []string
}

var extensionTech = map[string]string{
	".cfm": "cfml", ".cfc": "cfml",
	".js": "node", ".ts": "node",
	".java": "java", ".py": "python",
	".go": "go", ".cs": "dotnet",
	".php": "php", ".rb": "ruby",
}

// sampleFiles reads the application root and up to sampleMaxSubdirs of
// its subdirectories, stopping after sampleMaxFiles files. No
// recursive full-tree walk happens at scan time.
func (s *Scanner) sampleFiles(dirPath string) sampleResult {
	res := sampleResult{}
	seenTech := map[string]bool{}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return res
	}

	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			name := e.Name()
			if !strings.HasPrefix(name, ".") && !skipDirs[name] {
				res.dirsTotal++
				subdirs = append(subdirs, filepath.Join(dirPath, name))
			}
			continue
		}
		s.observeFile(e, &res, seenTech)
	}

	for _, sub := range subdirs {
		if res.dirsVisited >= sampleMaxSubdirs || res.filesSeen >= sampleMaxFiles {
			break
		}
		res.dirsVisited++

		if strings.Contains(strings.ToLower(filepath.Base(sub)), "test") {
			res.hasTests = true
		}

		subEntries, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		for _, e := range subEntries {
			if res.filesSeen >= sampleMaxFiles {
				break
			}
			if !e.IsDir() {
				s.observeFile(e, &res, seenTech)
			}
		}
	}
	if res.dirsVisited == 0 {
		res.dirsVisited = 1
		if res.dirsTotal == 0 {
			res.dirsTotal = 1
		}
	}

	for tech := range seenTech {
		res.technologies = append(res.technologies, tech)
	}
	sort.Strings(res.technologies)

	return res
}

func (s *Scanner) observeFile(e os.DirEntry, res *sampleResult, seenTech map[string]bool) {
	res.filesSeen++

	info, err := e.Info()
	if err == nil {
		res.bytesSeen += info.Size()
		if info.ModTime().After(res.newestMod) {
			res.newestMod = info.ModTime()
		}
	}

	lower := strings.ToLower(e.Name())
	if strings.Contains(lower, "test") || strings.Contains(lower, "spec") {
		res.hasTests = true
	}
	for _, hint := range databaseHints {
		if strings.Contains(lower, hint) {
			res.hasDatabase = true
			break
		}
	}
	if tech, ok := extensionTech[filepath.Ext(lower)]; ok {
		seenTech[tech] = true
	}
}

// classifyWorkspace maps application count to a workspace type. A
// services/microservices directory overrides the count heuristic.
func classifyWorkspace(appCount int, hasServicesDir bool) string {
	if hasServicesDir {
		return "multi-application"
	}
	switch {
	case appCount >= 5:
		return "multi-application"
	case appCount >= 2:
		return "monorepo"
	default:
		return "monolithic"
	}
}
