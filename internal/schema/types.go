package schema

import "sort"

// Relationship links a table to another table or entity
type Relationship struct {
	Type   string `json:"type"` // one-to-one, one-to-many, many-to-one, many-to-many, join
	Target string `json:"target"`
}

// TableInfo accumulates evidence about one database table while an
// application is scanned. Confidence is recomputed once at the end of
// inference, not incrementally.
type TableInfo struct {
	Name          string          `json:"name"`
	Columns       map[string]bool `json:"columns"`
	PrimaryKey    string          `json:"primaryKey,omitempty"`
	Relationships []Relationship  `json:"relationships,omitempty"`
	Operations    map[string]bool `json:"operations"`
	SourceFiles   []string        `json:"sourceFiles"`
	Confidence    float64         `json:"confidence"`
	fromORM       bool
}

// NewTableInfo creates an empty evidence record for a table
func NewTableInfo(name string) *TableInfo {
	return &TableInfo{
		Name:       name,
		Columns:    make(map[string]bool),
		Operations: make(map[string]bool),
	}
}

// AddSourceFile records a source file as evidence, deduplicated
func (t *TableInfo) AddSourceFile(path string) {
	for _, f := range t.SourceFiles {
		if f == path {
			return
		}
	}
	t.SourceFiles = append(t.SourceFiles, path)
}

// ColumnList returns the column set as a sorted slice
func (t *TableInfo) ColumnList() []string {
	cols := make([]string, 0, len(t.Columns))
	for c := range t.Columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// OperationList returns the operation set as a sorted slice
func (t *TableInfo) OperationList() []string {
	ops := make([]string, 0, len(t.Operations))
	for o := range t.Operations {
		ops = append(ops, o)
	}
	sort.Strings(ops)
	return ops
}

// Inference is the result of running the engine over one application
type Inference struct {
	Tables        map[string]*TableInfo `json:"tables"`
	Relationships []Relationship        `json:"relationships"`
	Datasources   []string              `json:"datasources"`
}

// SharedTable is a table in the cross-application merged schema
type SharedTable struct {
	TableInfo
	SourceApps []string `json:"sourceApps"`
}

// SharedSchema is the merged cross-application view of the database.
// Multiple applications may access the same underlying tables; their
// partial evidence is unioned, never overwritten.
type SharedSchema struct {
	Tables           map[string]*SharedTable `json:"tables"`
	Relationships    []Relationship          `json:"relationships"`
	Datasources      []string                `json:"datasources"`
	ContributingApps []string                `json:"contributingApps"`
}

// NewSharedSchema creates an empty shared schema
func NewSharedSchema() *SharedSchema {
	return &SharedSchema{
		Tables: make(map[string]*SharedTable),
	}
}

// Merge folds one application's inference into the shared schema.
// Column and operation sets are unioned and confidence only ever
// rises: the merged value starts from the higher of the two sides and
// gains +0.1 per contributing application, capped at 1.0.
func (s *SharedSchema) Merge(app string, inf *Inference) {
	if inf == nil {
		return
	}

	if !containsString(s.ContributingApps, app) {
		s.ContributingApps = append(s.ContributingApps, app)
	}

	for name, incoming := range inf.Tables {
		existing, ok := s.Tables[name]
		if !ok {
			st := &SharedTable{
				TableInfo:  *copyTableInfo(incoming),
				SourceApps: []string{app},
			}
			s.Tables[name] = st
			continue
		}

		for col := range incoming.Columns {
			existing.Columns[col] = true
		}
		for op := range incoming.Operations {
			existing.Operations[op] = true
		}
		for _, f := range incoming.SourceFiles {
			existing.AddSourceFile(f)
		}
		if existing.PrimaryKey == "" {
			existing.PrimaryKey = incoming.PrimaryKey
		}
		for _, rel := range incoming.Relationships {
			if !containsRelationship(existing.Relationships, rel) {
				existing.Relationships = append(existing.Relationships, rel)
			}
		}
		if !containsString(existing.SourceApps, app) {
			existing.SourceApps = append(existing.SourceApps, app)
		}

		base := existing.Confidence
		if incoming.Confidence > base {
			base = incoming.Confidence
		}
		boosted := base + 0.1*float64(len(existing.SourceApps))
		if boosted > 1.0 {
			boosted = 1.0
		}
		existing.Confidence = boosted
	}

	for _, rel := range inf.Relationships {
		if !containsRelationship(s.Relationships, rel) {
			s.Relationships = append(s.Relationships, rel)
		}
	}
	for _, ds := range inf.Datasources {
		if !containsString(s.Datasources, ds) {
			s.Datasources = append(s.Datasources, ds)
		}
	}
}

func copyTableInfo(t *TableInfo) *TableInfo {
	c := NewTableInfo(t.Name)
	for col := range t.Columns {
		c.Columns[col] = true
	}
	for op := range t.Operations {
		c.Operations[op] = true
	}
	c.PrimaryKey = t.PrimaryKey
	c.Relationships = append(c.Relationships, t.Relationships...)
	c.SourceFiles = append(c.SourceFiles, t.SourceFiles...)
	c.Confidence = t.Confidence
	return c
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsRelationship(list []Relationship, r Relationship) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}
