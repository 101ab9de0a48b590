package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true
	zero := 0

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				BatchSize:               20,
				TTL:                     "1h",
				MaxRetry:                &zero,
				BaseDelay:               "250ms",
				HoldInFlightDuringRetry: &trueVal,
				StorageBackend:          "pebble",
				QuotaBytes:              4096,
				ServiceURL:              "https://ingest.example.com",
			},
			changed: map[string]bool{},
			initial: Config{MaxRetry: 3},
			expected: Config{
				BatchSize:               20,
				TTL:                     time.Hour,
				MaxRetry:                0,
				BaseDelay:               250 * time.Millisecond,
				HoldInFlightDuringRetry: true,
				StorageBackend:          "pebble",
				QuotaBytes:              4096,
				ServiceURL:              "https://ingest.example.com",
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				BatchSize:  20,
				ServiceURL: "https://file.example.com",
			},
			changed: map[string]bool{"service-url": true},
			initial: Config{ServiceURL: "https://flag.example.com"},
			expected: Config{
				BatchSize:  20,
				ServiceURL: "https://flag.example.com",
			},
		},
		{
			name:       "absent max retry keeps current value",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    Config{MaxRetry: 3},
			expected:   Config{MaxRetry: 3},
		},
		{
			name:       "returns error for invalid duration",
			fileConfig: FileConfig{TTL: "soon"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyFileConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
batch_size = 25
ttl = "30m"
max_retry = 0
storage_type = "session"
analysis_url = "https://analysis.example.com"
quota_bytes = 1048576
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}
	if fc.BatchSize != 25 || fc.TTL != "30m" || fc.StorageType != "session" {
		t.Errorf("LoadFileConfig() = %+v", fc)
	}
	if fc.MaxRetry == nil || *fc.MaxRetry != 0 {
		t.Errorf("MaxRetry = %v, want explicit 0", fc.MaxRetry)
	}
	if fc.QuotaBytes != 1<<20 || fc.AnalysisURL != "https://analysis.example.com" {
		t.Errorf("LoadFileConfig() = %+v", fc)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	if _, err := LoadFileConfig("/nonexistent/config.toml"); err == nil {
		t.Error("LoadFileConfig() expected error for missing file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("batch_size = [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFileConfig(path); err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if path == "" {
		t.Skip("no home directory")
	}
	if !strings.HasSuffix(path, filepath.Join(".perfship", "config.toml")) {
		t.Errorf("DefaultConfigPath() = %v", path)
	}
}

func TestFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exists.toml")
	if FileExists(path) {
		t.Error("FileExists() = true before creation")
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("FileExists() = false after creation")
	}
}
