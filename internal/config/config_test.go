package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Cache.MaxSizeMB != 500 {
		t.Errorf("MaxSizeMB = %d, want 500", cfg.Cache.MaxSizeMB)
	}
	if cfg.Cache.TTLDays != 7 {
		t.Errorf("TTLDays = %d, want 7", cfg.Cache.TTLDays)
	}
	if !cfg.Watch.Enabled {
		t.Error("Watch.Enabled should default to true")
	}
	if cfg.Watch.PromotionFileThreshold != 3 {
		t.Errorf("PromotionFileThreshold = %d, want 3", cfg.Watch.PromotionFileThreshold)
	}
	if cfg.Watch.ImmediateTimeoutMin != 30 {
		t.Errorf("ImmediateTimeoutMin = %d, want 30", cfg.Watch.ImmediateTimeoutMin)
	}
	if cfg.Watch.QueuedTimeoutMin != 60 {
		t.Errorf("QueuedTimeoutMin = %d, want 60", cfg.Watch.QueuedTimeoutMin)
	}
	if cfg.Depth != "shallow" {
		t.Errorf("Depth = %q, want shallow", cfg.Depth)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Cache.MaxSizeMB != 500 {
		t.Errorf("MaxSizeMB = %d, want default 500", cfg.Cache.MaxSizeMB)
	}
	if cfg.WorkspacePath != tmpDir {
		t.Errorf("WorkspacePath = %q, want %q", cfg.WorkspacePath, tmpDir)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.WorkspacePath = tmpDir
	cfg.Depth = "deep"
	cfg.Cache.MaxSizeMB = 250
	cfg.Watch.Enabled = false

	if err := cfg.Save(tmpDir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ".wkb", "config.json")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	loaded, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Depth != "deep" {
		t.Errorf("Depth = %q, want deep", loaded.Depth)
	}
	if loaded.Cache.MaxSizeMB != 250 {
		t.Errorf("MaxSizeMB = %d, want 250", loaded.Cache.MaxSizeMB)
	}
	if loaded.Watch.Enabled {
		t.Error("Watch.Enabled should be false after load")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"valid deep", func(c *Config) { c.Depth = "deep" }, false},
		{"bad depth", func(c *Config) { c.Depth = "full" }, true},
		{"zero cache size", func(c *Config) { c.Cache.MaxSizeMB = 0 }, true},
		{"negative ttl", func(c *Config) { c.Cache.TTLDays = -1 }, true},
		{"zero threshold", func(c *Config) { c.Watch.PromotionFileThreshold = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
