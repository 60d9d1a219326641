package schema

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"wkb/internal/logging"
)

func testEngine() *Engine {
	return NewEngine(logging.NewLogger(logging.Config{Level: logging.ErrorLevel}))
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestInferFromEmbeddedQueries(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "orders.cfm", `
		<cfquery name="getOrders" datasource="legacy">
			SELECT order_id, customer_id, total FROM orders
			JOIN customers ON orders.customer_id = customers.id
		</cfquery>
		<cfquery name="updateOrder">
			UPDATE orders SET total = 10 WHERE order_id = 1
		</cfquery>
	`)

	inf, err := testEngine().Infer(tmpDir)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	orders, ok := inf.Tables["orders"]
	if !ok {
		t.Fatalf("orders table not inferred, tables = %v", tableNames(inf))
	}
	if !orders.Operations["SELECT"] || !orders.Operations["UPDATE"] {
		t.Errorf("operations = %v, want SELECT and UPDATE", orders.OperationList())
	}
	for _, col := range []string{"order_id", "customer_id", "total"} {
		if !orders.Columns[col] {
			t.Errorf("column %q missing, got %v", col, orders.ColumnList())
		}
	}

	if _, ok := inf.Tables["customers"]; !ok {
		t.Error("JOIN target customers should be inferred")
	}
}

func TestReservedWordsFiltered(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "report.cfm", `
		SELECT DISTINCT name FROM accounts ORDER BY name
	`)

	inf, err := testEngine().Infer(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	for name := range inf.Tables {
		if sqlReservedWords[name] {
			t.Errorf("reserved word %q inferred as table", name)
		}
	}
	if _, ok := inf.Tables["accounts"]; !ok {
		t.Error("accounts should be inferred")
	}
}

func TestDeleteNotCountedAsSelect(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "cleanup.cfm", `DELETE FROM sessions WHERE expired = 1`)

	inf, err := testEngine().Infer(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	sessions, ok := inf.Tables["sessions"]
	if !ok {
		t.Fatal("sessions table not inferred")
	}
	if !sessions.Operations["DELETE"] {
		t.Error("DELETE operation missing")
	}
	if sessions.Operations["SELECT"] {
		t.Error("DELETE FROM must not register a SELECT")
	}
}

func TestORMEntityExtraction(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "model/Order.cfc", `
component persistent="true" table="orders" {
	property name="order_id" fieldtype="id" generator="identity";
	property name="customer_id" ormtype="integer";
	property name="total" ormtype="big_decimal";
	property name="lines" fieldtype="one-to-many" cfc="OrderLine" fkcolumn="order_id";
}
	`)

	inf, err := testEngine().Infer(tmpDir)
	if err != nil {
		t.Fatal(err)
	}

	orders, ok := inf.Tables["orders"]
	if !ok {
		t.Fatalf("orders entity not inferred, tables = %v", tableNames(inf))
	}
	if orders.PrimaryKey != "order_id" {
		t.Errorf("PrimaryKey = %q, want order_id", orders.PrimaryKey)
	}
	if orders.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want fixed 0.95 for ORM evidence", orders.Confidence)
	}
	if !orders.Columns["customer_id"] || !orders.Columns["total"] {
		t.Errorf("columns = %v, want customer_id and total", orders.ColumnList())
	}
	if len(orders.Relationships) != 1 {
		t.Fatalf("relationships = %v, want 1", orders.Relationships)
	}
	rel := orders.Relationships[0]
	if rel.Type != "one-to-many" || rel.Target != "orderline" {
		t.Errorf("relationship = %+v", rel)
	}
}

func TestDataAccessNamingConvention(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "OrderDAO.cfc", `
component {
	function read() {
		var q = "SELECT order_id FROM orders";
	}
}
	`)
	// A non-data-access code file with SQL-looking text is not scanned
	writeFile(t, tmpDir, "Helper.cfc", `
component {
	function x() { var q = "SELECT id FROM ignored_table"; }
}
	`)

	inf, err := testEngine().Infer(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := inf.Tables["orders"]; !ok {
		t.Error("DAO-named file should be scanned for queries")
	}
	if _, ok := inf.Tables["ignored_table"]; ok {
		t.Error("plain component file should not be scanned")
	}
}

func TestConfidenceScoring(t *testing.T) {
	tests := []struct {
		name  string
		table func() *TableInfo
		want  float64
	}{
		{
			"base only",
			func() *TableInfo {
				tb := NewTableInfo("t")
				tb.SourceFiles = []string{"a.cfm"}
				tb.Operations["SELECT"] = true
				return tb
			},
			0.5,
		},
		{
			"primary key",
			func() *TableInfo {
				tb := NewTableInfo("t")
				tb.SourceFiles = []string{"a.cfm"}
				tb.PrimaryKey = "id"
				return tb
			},
			0.65,
		},
		{
			"extra operations",
			func() *TableInfo {
				tb := NewTableInfo("t")
				tb.SourceFiles = []string{"a.cfm"}
				tb.Operations["SELECT"] = true
				tb.Operations["UPDATE"] = true
				tb.Operations["DELETE"] = true
				return tb
			},
			0.6,
		},
		{
			"many columns",
			func() *TableInfo {
				tb := NewTableInfo("t")
				tb.SourceFiles = []string{"a.cfm"}
				for _, c := range []string{"a", "b", "c", "d"} {
					tb.Columns[c] = true
				}
				return tb
			},
			0.6,
		},
		{
			"everything capped at 1.0",
			func() *TableInfo {
				tb := NewTableInfo("t")
				for i := 0; i < 10; i++ {
					tb.SourceFiles = append(tb.SourceFiles, string(rune('a'+i))+".cfm")
				}
				tb.PrimaryKey = "id"
				for _, c := range []string{"a", "b", "c", "d", "e"} {
					tb.Columns[c] = true
				}
				for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
					tb.Operations[op] = true
				}
				tb.Relationships = []Relationship{
					{Type: "one-to-many", Target: "x"},
					{Type: "many-to-one", Target: "y"},
					{Type: "many-to-many", Target: "z"},
				}
				return tb
			},
			1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoreTable(tt.table())
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("scoreTable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDatasourceDiscovery(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "Application.cfc", `
component {
	this.datasource = "legacyDB";
}
	`)
	writeFile(t, tmpDir, "application.properties", `
spring.datasource.name=reportingDB
	`)

	inf, err := testEngine().Infer(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, ds := range inf.Datasources {
		found[ds] = true
	}
	if !found["legacyDB"] {
		t.Errorf("datasources = %v, want legacyDB", inf.Datasources)
	}
}

func TestPerFileErrorsAreSkipped(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "good.cfm", `SELECT id FROM widgets`)
	// Unreadable file must not abort inference
	bad := filepath.Join(tmpDir, "bad.cfm")
	if err := os.WriteFile(bad, []byte("SELECT x FROM secret"), 0000); err != nil {
		t.Fatal(err)
	}

	inf, err := testEngine().Infer(tmpDir)
	if err != nil {
		t.Fatalf("Infer should not fail on unreadable files: %v", err)
	}
	if _, ok := inf.Tables["widgets"]; !ok {
		t.Error("readable file should still be processed")
	}
}

func tableNames(inf *Inference) []string {
	var names []string
	for n := range inf.Tables {
		names = append(names, n)
	}
	return names
}
