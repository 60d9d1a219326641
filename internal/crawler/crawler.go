// Package crawler extracts per-application context at shallow or deep
// depth, consulting the fingerprint cache before doing any work.
package crawler

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"wkb/internal/fingerprint"
	"wkb/internal/logging"
	"wkb/internal/storage"
)

// maxConfigFileBytes caps configuration files before parsing
const maxConfigFileBytes = 100 * 1024

// entryPointPatterns is the fixed list of filenames recognized as
// application entry points, checked in the application root
var entryPointPatterns = []string{
	"Application.cfc", "Application.cfm", "index.cfm",
	"index.html", "index.php", "index.js",
	"main.go", "main.py", "app.py", "manage.py",
	"server.js", "app.js", "Program.cs",
	"web.xml",
}

// configFiles is the fixed list of configuration files parsed during
// a shallow crawl, each with its format
var configFiles = []struct {
	name   string
	format string
}{
	{"package.json", "json"},
	{"appsettings.json", "json"},
	{"config.json", "json"},
	{"application.yml", "yaml"},
	{"application.yaml", "yaml"},
	{"config.yml", "yaml"},
	{"config.yaml", "yaml"},
	{"pyproject.toml", "toml"},
	{"Cargo.toml", "toml"},
	{"config.toml", "toml"},
	{"application.properties", "properties"},
	{"config.properties", "properties"},
	{".env", "properties"},
}

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"venv":         true,
	".git":         true,
}

// includeRe finds file references for the deep relationship map
var includeRe = regexp.MustCompile(`(?i)(?:cfinclude\s+template|include|import|require)\s*[=(]?\s*["']([^"']{1,200})["']`)

// dbRefRe flags lines suggesting database access in the deep pass
var dbRefRe = regexp.MustCompile(`(?i)\b(?:cfquery|SELECT\s+.{1,200}\s+FROM|INSERT\s+INTO|createConnection|dataSource)\b`)

// FileRecord is one row of the deep file inventory
type FileRecord struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
	Extension string `json:"extension"`
}

// Context is the extracted knowledge about one application. It is the
// payload stored in the fingerprint cache.
type Context struct {
	Application   string                            `json:"application"`
	Depth         storage.Depth                     `json:"depth"`
	Fingerprint   string                            `json:"fingerprint"`
	CrawledAt     time.Time                         `json:"crawledAt"`
	EntryPoints   []string                          `json:"entryPoints"`
	Structure     map[string][]string               `json:"structure"`
	Configuration map[string]map[string]interface{} `json:"configuration"`

	// Deep-only fields
	FileInventory      []FileRecord        `json:"fileInventory,omitempty"`
	Relationships      map[string][]string `json:"relationships,omitempty"`
	DatabaseReferences []string            `json:"databaseReferences,omitempty"`
}

// Result wraps a crawl context with its cache outcome
type Result struct {
	Context  *Context
	CacheHit bool
}

// Crawler performs per-application extraction
type Crawler struct {
	workspaceRoot string
	cache         *storage.FingerprintCache
	fingerprints  *fingerprint.Computer
	logger        *logging.Logger
}

// New creates a crawler rooted at the workspace
func New(workspaceRoot string, cache *storage.FingerprintCache, fingerprints *fingerprint.Computer, logger *logging.Logger) *Crawler {
	return &Crawler{
		workspaceRoot: workspaceRoot,
		cache:         cache,
		fingerprints:  fingerprints,
		logger:        logger.WithComponent("crawler"),
	}
}

// Crawl extracts context for one application. The fingerprint is
// computed first; a valid cache hit returns the stored context at
// near-zero cost. Individual file errors never abort the crawl.
func (c *Crawler) Crawl(appName string, depth storage.Depth) (*Result, error) {
	appRoot := filepath.Join(c.workspaceRoot, appName)
	if info, err := os.Stat(appRoot); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("application root %s does not exist", appRoot)
	}

	fp := c.fingerprints.Compute(appRoot)

	if cached, hit, err := c.cache.Get(appName, depth, fp); err == nil && hit {
		var ctx Context
		if err := json.Unmarshal(cached, &ctx); err == nil {
			c.logger.Debug("Cache hit", map[string]interface{}{
				"app":   appName,
				"depth": string(depth),
			})
			return &Result{Context: &ctx, CacheHit: true}, nil
		}
		// Unparseable payload: fall through to a fresh crawl
		c.logger.Warn("Cached context unparseable, re-crawling", map[string]interface{}{
			"app": appName,
		})
	}

	start := time.Now()
	ctx := &Context{
		Application: appName,
		Depth:       depth,
		Fingerprint: fp,
		CrawledAt:   time.Now().UTC(),
	}

	ctx.EntryPoints = c.findEntryPoints(appRoot)
	ctx.Structure = c.analyzeStructure(appRoot)
	ctx.Configuration = c.parseConfiguration(appRoot)

	if depth == storage.DeepDepth {
		c.crawlDeep(appRoot, ctx)
	}

	data, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize crawl context: %w", err)
	}
	c.cache.Put(appName, depth, fp, data)

	c.logger.Info("Crawl complete", map[string]interface{}{
		"app":        appName,
		"depth":      string(depth),
		"durationMs": time.Since(start).Milliseconds(),
	})

	return &Result{Context: ctx, CacheHit: false}, nil
}

// findEntryPoints checks the fixed filename patterns in the app root
func (c *Crawler) findEntryPoints(appRoot string) []string {
	var found []string
	for _, name := range entryPointPatterns {
		if _, err := os.Stat(filepath.Join(appRoot, name)); err == nil {
			found = append(found, name)
		}
	}
	return found
}

// analyzeStructure maps directories to their children, two levels deep
func (c *Crawler) analyzeStructure(appRoot string) map[string][]string {
	structure := make(map[string][]string)

	topEntries, err := os.ReadDir(appRoot)
	if err != nil {
		c.logger.Warn("Failed to read application root", map[string]interface{}{
			"appRoot": appRoot, "error": err.Error(),
		})
		return structure
	}

	var rootChildren []string
	for _, e := range topEntries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || skipDirs[name] {
			continue
		}
		rootChildren = append(rootChildren, name)

		if !e.IsDir() {
			continue
		}
		subEntries, err := os.ReadDir(filepath.Join(appRoot, name))
		if err != nil {
			continue
		}
		var children []string
		for _, se := range subEntries {
			if !strings.HasPrefix(se.Name(), ".") {
				children = append(children, se.Name())
			}
		}
		sort.Strings(children)
		structure[name] = children
	}
	sort.Strings(rootChildren)
	structure["."] = rootChildren

	return structure
}

// parseConfiguration parses the fixed configuration file list.
// Oversized or malformed files are skipped, never fatal.
func (c *Crawler) parseConfiguration(appRoot string) map[string]map[string]interface{} {
	config := make(map[string]map[string]interface{})

	for _, cf := range configFiles {
		path := filepath.Join(appRoot, cf.name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() > maxConfigFileBytes {
			c.logger.Debug("Skipping oversized config file", map[string]interface{}{
				"file": cf.name, "sizeBytes": info.Size(),
			})
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Debug("Skipping unreadable config file", map[string]interface{}{
				"file": cf.name, "error": err.Error(),
			})
			continue
		}

		parsed, err := parseConfigData(data, cf.format)
		if err != nil {
			c.logger.Debug("Skipping malformed config file", map[string]interface{}{
				"file": cf.name, "error": err.Error(),
			})
			continue
		}
		config[cf.name] = parsed
	}

	return config
}

func parseConfigData(data []byte, format string) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	switch format {
	case "json":
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, err
		}
	case "toml":
		if err := toml.Unmarshal(data, &out); err != nil {
			return nil, err
		}
	case "properties":
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
				continue
			}
			if idx := strings.Index(line, "="); idx > 0 {
				out[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
			}
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}
	return out, nil
}

// crawlDeep adds the full file inventory, the include/import
// relationship map, and database references to the context
func (c *Crawler) crawlDeep(appRoot string, ctx *Context) {
	ctx.Relationships = make(map[string][]string)
	dbRefs := map[string]bool{}

	err := filepath.WalkDir(appRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != appRoot && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(appRoot, path)
		if err != nil {
			rel = path
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		ctx.FileInventory = append(ctx.FileInventory, FileRecord{
			Path:      rel,
			SizeBytes: info.Size(),
			Extension: ext,
		})

		if !sourceExtension(ext) || info.Size() > maxConfigFileBytes*10 {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Debug("Skipping unreadable source file", map[string]interface{}{
				"file": rel, "error": err.Error(),
			})
			return nil
		}
		content := string(data)

		if refs := includeRe.FindAllStringSubmatch(content, -1); len(refs) > 0 {
			var targets []string
			for _, m := range refs {
				targets = append(targets, m[1])
			}
			ctx.Relationships[rel] = targets
		}
		if dbRefRe.MatchString(content) {
			dbRefs[rel] = true
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Deep crawl walk failed", map[string]interface{}{
			"appRoot": appRoot, "error": err.Error(),
		})
	}

	for ref := range dbRefs {
		ctx.DatabaseReferences = append(ctx.DatabaseReferences, ref)
	}
	sort.Strings(ctx.DatabaseReferences)
}

func sourceExtension(ext string) bool {
	switch ext {
	case ".cfm", ".cfc", ".js", ".ts", ".java", ".py", ".go", ".cs", ".php", ".rb", ".sql", ".html", ".jsp":
		return true
	}
	return false
}
