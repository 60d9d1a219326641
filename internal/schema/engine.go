// Package schema infers database tables, columns, and relationships
// from application source, merging partial evidence from query blocks,
// ORM entity declarations, and data-access naming conventions into
// confidence-scored results.
package schema

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"wkb/internal/logging"
)

const (
	// ormConfidence is fixed for ORM entity evidence: a declared
	// entity is the strongest signal short of the live database.
	ormConfidence = 0.95

	// baseConfidence is the starting score for pattern-matched tables
	baseConfidence = 0.5

	// maxScanBytes caps how much of any one file is parsed
	maxScanBytes = 1 << 20
)

// templateExtensions are markup/template files that may embed queries
var templateExtensions = map[string]bool{
	".cfm": true, ".cfml": true, ".html": true, ".htm": true,
	".jsp": true, ".php": true, ".asp": true, ".aspx": true,
}

// codeExtensions are source files checked for entities and DAO patterns
var codeExtensions = map[string]bool{
	".cfc": true, ".java": true, ".cs": true, ".py": true,
	".js": true, ".ts": true, ".go": true, ".php": true, ".rb": true,
}

// dataAccessNames flag files scanned for queries by naming convention
var dataAccessNames = []string{"dao", "service", "repository", "gateway"}

// sqlReservedWords are filtered out of extracted table/column tokens
var sqlReservedWords = map[string]bool{
	"select": true, "from": true, "where": true, "join": true,
	"inner": true, "outer": true, "left": true, "right": true, "full": true,
	"on": true, "and": true, "or": true, "not": true, "null": true,
	"as": true, "distinct": true, "top": true, "order": true, "by": true,
	"group": true, "having": true, "union": true, "all": true,
	"insert": true, "into": true, "values": true, "update": true,
	"set": true, "delete": true, "case": true, "when": true,
	"then": true, "else": true, "end": true, "like": true,
	"between": true, "exists": true, "in": true, "is": true,
	"count": true, "sum": true, "max": true, "min": true, "avg": true,
	"asc": true, "desc": true, "limit": true, "offset": true,
}

var (
	selectRe     = regexp.MustCompile(`(?is)\bSELECT\b\s+(.*?)\s+\bFROM\b`)
	fromTableRe  = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_][A-Za-z0-9_]*)`)
	joinTableRe  = regexp.MustCompile(`(?i)\bJOIN\s+([A-Za-z_][A-Za-z0-9_]*)`)
	updateRe     = regexp.MustCompile(`(?i)\bUPDATE\s+([A-Za-z_][A-Za-z0-9_]*)`)
	insertRe     = regexp.MustCompile(`(?i)\bINSERT\s+INTO\s+([A-Za-z_][A-Za-z0-9_]*)`)
	deleteRe     = regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+([A-Za-z_][A-Za-z0-9_]*)`)
	columnListRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

	persistentRe = regexp.MustCompile(`(?i)persistent\s*=\s*["']?true|@Entity\b`)
	tableAttrRe  = regexp.MustCompile(`(?i)\btable\s*=\s*["']([A-Za-z0-9_]+)["']|@Table\s*\(\s*name\s*=\s*["']([A-Za-z0-9_]+)["']`)
	propertyRe   = regexp.MustCompile(`(?i)property\s+[^;\n>]*?name\s*=\s*["']([A-Za-z0-9_]+)["'][^;\n>]*`)
	fieldTypeRe  = regexp.MustCompile(`(?i)fieldtype\s*=\s*["']([a-z\-]+)["']`)
	relTargetRe  = regexp.MustCompile(`(?i)\bcfc\s*=\s*["']([A-Za-z0-9_.]+)["']`)

	datasourceRe = regexp.MustCompile(`(?i)datasource[\w.]*\s*[=:]\s*["']?([A-Za-z0-9_\-]+)`)
)

// datasourceFiles is the well-known set checked for datasource names
var datasourceFiles = []string{
	"Application.cfc",
	"Application.cfm",
	"application.properties",
	"config.properties",
	"datasource.properties",
	"settings.ini",
	".env",
}

// Engine extracts schema evidence from one application's source tree
type Engine struct {
	logger *logging.Logger
}

// NewEngine creates a schema inference engine
func NewEngine(logger *logging.Logger) *Engine {
	return &Engine{logger: logger.WithComponent("schema")}
}

// Infer scans an application root and returns confidence-scored table
// evidence. A file that fails to read or parse is logged and skipped;
// it never aborts the inference.
func (e *Engine) Infer(appRoot string) (*Inference, error) {
	inf := &Inference{
		Tables: make(map[string]*TableInfo),
	}

	err := filepath.WalkDir(appRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != appRoot && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "__pycache__") {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case templateExtensions[ext]:
			e.scanFileForQueries(path, appRoot, inf)
		case codeExtensions[ext]:
			content, ok := e.readCapped(path)
			if !ok {
				return nil
			}
			if persistentRe.MatchString(content) {
				e.extractEntity(path, appRoot, content, inf)
			} else if isDataAccessFile(path) {
				e.scanContentForQueries(path, appRoot, content, inf)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	inf.Datasources = e.findDatasources(appRoot)

	// Confidence is computed once per table, after all evidence is in
	for _, table := range inf.Tables {
		if !table.fromORM {
			table.Confidence = scoreTable(table)
		}
	}

	e.logger.Debug("Schema inference complete", map[string]interface{}{
		"appRoot":     appRoot,
		"tables":      len(inf.Tables),
		"datasources": len(inf.Datasources),
	})

	return inf, nil
}

func (e *Engine) readCapped(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		e.logger.Debug("Skipping unreadable file", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
		return "", false
	}
	if info.Size() > maxScanBytes {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		e.logger.Debug("Skipping unreadable file", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
		return "", false
	}
	return string(data), true
}

func (e *Engine) scanFileForQueries(path, appRoot string, inf *Inference) {
	content, ok := e.readCapped(path)
	if !ok {
		return
	}
	e.scanContentForQueries(path, appRoot, content, inf)
}

// scanContentForQueries pattern-matches embedded SQL, classifying each
// statement and extracting table and column tokens.
func (e *Engine) scanContentForQueries(path, appRoot, content string, inf *Inference) {
	rel := relPath(appRoot, path)

	record := func(re *regexp.Regexp, op, text string) {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := strings.ToLower(m[1])
			if sqlReservedWords[name] {
				continue
			}
			table := getOrCreateTable(inf, name)
			table.Operations[op] = true
			table.AddSourceFile(rel)
		}
	}

	// DELETE FROM first; the bare FROM pattern would otherwise claim
	// those statements as reads
	record(deleteRe, "DELETE", content)
	working := deleteRe.ReplaceAllString(content, " ")

	record(fromTableRe, "SELECT", working)
	record(joinTableRe, "SELECT", working)
	record(updateRe, "UPDATE", working)
	record(insertRe, "INSERT", working)

	// Column tokens from SELECT lists, attributed to the FROM table
	for _, m := range selectRe.FindAllStringSubmatch(content, -1) {
		cols := extractColumns(m[1])
		if len(cols) == 0 {
			continue
		}
		tail := content[strings.Index(content, m[0]):]
		fm := fromTableRe.FindStringSubmatch(tail)
		if fm == nil {
			continue
		}
		name := strings.ToLower(fm[1])
		if sqlReservedWords[name] {
			continue
		}
		table := getOrCreateTable(inf, name)
		for _, c := range cols {
			table.Columns[c] = true
		}
	}
}

// extractColumns tokenizes a SELECT list, filtering reserved words,
// functions, and the * wildcard
func extractColumns(selectList string) []string {
	if strings.TrimSpace(selectList) == "*" {
		return nil
	}
	var cols []string
	for _, part := range strings.Split(selectList, ",") {
		part = strings.TrimSpace(part)
		if part == "" || strings.Contains(part, "(") {
			continue
		}
		tokens := columnListRe.FindAllString(part, -1)
		if len(tokens) == 0 {
			continue
		}
		// Last identifier wins: covers "t.col" and "col AS alias"
		tok := strings.ToLower(tokens[0])
		if len(tokens) > 1 && strings.Contains(part, ".") {
			tok = strings.ToLower(tokens[1])
		}
		if sqlReservedWords[tok] || tok == "" {
			continue
		}
		cols = append(cols, tok)
	}
	return cols
}

// extractEntity parses an ORM-style entity declaration: table name,
// typed properties, primary key, and declared relationships.
func (e *Engine) extractEntity(path, appRoot, content string, inf *Inference) {
	rel := relPath(appRoot, path)

	tableName := ""
	if m := tableAttrRe.FindStringSubmatch(content); m != nil {
		if m[1] != "" {
			tableName = strings.ToLower(m[1])
		} else {
			tableName = strings.ToLower(m[2])
		}
	}
	if tableName == "" {
		// Entity without an explicit table maps to its file name
		base := filepath.Base(path)
		tableName = strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	}

	table := getOrCreateTable(inf, tableName)
	table.fromORM = true
	table.Confidence = ormConfidence
	table.AddSourceFile(rel)

	for _, pm := range propertyRe.FindAllStringSubmatch(content, -1) {
		propDecl := pm[0]
		propName := strings.ToLower(pm[1])

		fieldType := ""
		if fm := fieldTypeRe.FindStringSubmatch(propDecl); fm != nil {
			fieldType = strings.ToLower(fm[1])
		}

		switch fieldType {
		case "id":
			table.PrimaryKey = propName
			table.Columns[propName] = true
		case "one-to-one", "one-to-many", "many-to-one", "many-to-many":
			target := propName
			if tm := relTargetRe.FindStringSubmatch(propDecl); tm != nil {
				target = strings.ToLower(tm[1])
			}
			r := Relationship{Type: fieldType, Target: target}
			table.Relationships = append(table.Relationships, r)
			inf.Relationships = append(inf.Relationships, r)
		default:
			table.Columns[propName] = true
		}
	}
}

// findDatasources checks the well-known configuration files for
// datasource declarations via key=value matching
func (e *Engine) findDatasources(appRoot string) []string {
	seen := map[string]bool{}
	var sources []string

	for _, name := range datasourceFiles {
		content, ok := e.readCapped(filepath.Join(appRoot, name))
		if !ok {
			continue
		}
		for _, m := range datasourceRe.FindAllStringSubmatch(content, -1) {
			ds := m[1]
			lower := strings.ToLower(ds)
			if lower == "true" || lower == "false" || seen[lower] {
				continue
			}
			seen[lower] = true
			sources = append(sources, ds)
		}
	}
	return sources
}

// scoreTable computes the final confidence for pattern-matched
// (non-ORM) evidence: 0.5 base plus bounded boosts for corroborating
// signals, capped at 1.0.
func scoreTable(t *TableInfo) float64 {
	score := baseConfidence

	if n := len(t.SourceFiles); n > 1 {
		boost := 0.05 * float64(n-1)
		if boost > 0.25 {
			boost = 0.25
		}
		score += boost
	}
	if t.PrimaryKey != "" {
		score += 0.15
	}
	if n := len(t.Relationships); n > 0 {
		boost := 0.10 * float64(n)
		if boost > 0.20 {
			boost = 0.20
		}
		score += boost
	}
	if n := len(t.Operations); n > 1 {
		score += 0.05 * float64(n-1)
	}
	if len(t.Columns) > 3 {
		score += 0.10
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func getOrCreateTable(inf *Inference, name string) *TableInfo {
	if t, ok := inf.Tables[name]; ok {
		return t
	}
	t := NewTableInfo(name)
	inf.Tables[name] = t
	return t
}

func isDataAccessFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, n := range dataAccessNames {
		if strings.Contains(base, n) {
			return true
		}
	}
	return false
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
