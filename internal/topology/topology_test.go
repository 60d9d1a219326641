package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"wkb/internal/logging"
)

func testScanner() *Scanner {
	return NewScanner(logging.NewLogger(logging.Config{Level: logging.ErrorLevel}))
}

// makeApp creates a directory containing the given marker file
func makeApp(t *testing.T, root, name, marker string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, marker), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestScanMultiApplication(t *testing.T) {
	// Six subdirectories: five with markers, one without
	tmpDir := t.TempDir()
	makeApp(t, tmpDir, "Billing", "Application.cfc")
	makeApp(t, tmpDir, "Orders", "package.json")
	makeApp(t, tmpDir, "Inventory", "pom.xml")
	makeApp(t, tmpDir, "Reports", "go.mod")
	makeApp(t, tmpDir, "Auth", "requirements.txt")
	if err := os.MkdirAll(filepath.Join(tmpDir, "docs"), 0755); err != nil {
		t.Fatal(err)
	}

	result, err := testScanner().Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(result.Applications) != 5 {
		t.Fatalf("applications = %d, want 5", len(result.Applications))
	}
	if result.WorkspaceType != "multi-application" {
		t.Errorf("workspaceType = %q, want multi-application", result.WorkspaceType)
	}
}

func TestScanClassification(t *testing.T) {
	tests := []struct {
		name     string
		appCount int
		want     string
	}{
		{"monolithic", 1, "monolithic"},
		{"monorepo", 2, "monorepo"},
		{"monorepo upper", 4, "monorepo"},
		{"multi", 5, "multi-application"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			for i := 0; i < tt.appCount; i++ {
				makeApp(t, tmpDir, fmt.Sprintf("app%d", i), "package.json")
			}

			result, err := testScanner().Scan(tmpDir)
			if err != nil {
				t.Fatal(err)
			}
			if result.WorkspaceType != tt.want {
				t.Errorf("workspaceType = %q, want %q", result.WorkspaceType, tt.want)
			}
		})
	}
}

func TestServicesDirOverridesClassification(t *testing.T) {
	tmpDir := t.TempDir()
	makeApp(t, tmpDir, "onlyapp", "go.mod")
	if err := os.MkdirAll(filepath.Join(tmpDir, "services"), 0755); err != nil {
		t.Fatal(err)
	}

	result, err := testScanner().Scan(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if result.WorkspaceType != "multi-application" {
		t.Errorf("workspaceType = %q, want multi-application (services override)", result.WorkspaceType)
	}
}

func TestMarkerPriorityFirstMatchWins(t *testing.T) {
	tmpDir := t.TempDir()
	dir := makeApp(t, tmpDir, "Legacy", "package.json")
	// Application descriptor outranks the package manifest
	if err := os.WriteFile(filepath.Join(dir, "Application.cfc"), []byte("component {}"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := testScanner().Scan(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Applications) != 1 {
		t.Fatalf("applications = %d, want 1", len(result.Applications))
	}
	app := result.Applications[0]
	if app.DetectionMarker != "Application.cfc" {
		t.Errorf("DetectionMarker = %q, want Application.cfc", app.DetectionMarker)
	}
	if app.TechnologyStack[0] != "cfml" {
		t.Errorf("TechnologyStack[0] = %q, want cfml", app.TechnologyStack[0])
	}
}

func TestSkipsDotAndDependencyDirs(t *testing.T) {
	tmpDir := t.TempDir()
	makeApp(t, tmpDir, "real", "go.mod")
	makeApp(t, tmpDir, "node_modules", "package.json")
	makeApp(t, tmpDir, ".hidden", "package.json")
	makeApp(t, tmpDir, "vendor", "go.mod")
	makeApp(t, tmpDir, "__pycache__", "setup.py")

	result, err := testScanner().Scan(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Applications) != 1 {
		t.Fatalf("applications = %d, want 1 (skip lists ignored?)", len(result.Applications))
	}
	if result.Applications[0].Name != "real" {
		t.Errorf("Name = %q, want real", result.Applications[0].Name)
	}
}

func TestSharedLibraryDetection(t *testing.T) {
	tmpDir := t.TempDir()
	makeApp(t, tmpDir, "app1", "package.json")
	for _, name := range []string{"Common", "Shared", "Utils"} {
		if err := os.MkdirAll(filepath.Join(tmpDir, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	// Shared folders are excluded even if they carry a marker
	if err := os.WriteFile(filepath.Join(tmpDir, "Common", "package.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := testScanner().Scan(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.SharedLibraries) != 3 {
		t.Errorf("sharedLibraries = %v, want 3 entries", result.SharedLibraries)
	}
	if len(result.Applications) != 1 {
		t.Errorf("applications = %d, want 1", len(result.Applications))
	}
}

func TestSamplingEstimatesAndSignals(t *testing.T) {
	tmpDir := t.TempDir()
	dir := makeApp(t, tmpDir, "Billing", "Application.cfc")

	if err := os.MkdirAll(filepath.Join(dir, "tests"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tests", "billing_test.cfc"), []byte("component {}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "OrderDAO.cfc"), []byte("component {}"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := testScanner().Scan(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	app := result.Applications[0]
	if !app.HasTests {
		t.Error("HasTests should be true")
	}
	if !app.HasDatabaseAccess {
		t.Error("HasDatabaseAccess should be true (DAO file present)")
	}
	if app.EstimatedFileCount < 3 {
		t.Errorf("EstimatedFileCount = %d, want >= 3", app.EstimatedFileCount)
	}
	if app.EstimatedSizeBytes <= 0 {
		t.Error("EstimatedSizeBytes should be positive")
	}
	if app.LastModified.IsZero() {
		t.Error("LastModified should be set")
	}
}

func TestDiscoveryOrderIsSorted(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		makeApp(t, tmpDir, name, "go.mod")
	}

	result, err := testScanner().Scan(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, app := range result.Applications {
		if app.Name != want[i] {
			t.Errorf("Applications[%d] = %q, want %q", i, app.Name, want[i])
		}
	}
}
