package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"memorycam/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	chdirForTest(t, t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "memorycam", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.QueuePath() != filepath.Join(tempHome, ".local", "share", "memorycam", "queue", "queue.db") {
		t.Fatalf("unexpected queue path: %q", cfg.QueuePath())
	}
	if cfg.Capture.Mode != config.ModeContinuous {
		t.Fatalf("expected continuous mode by default, got %q", cfg.Capture.Mode)
	}
	if cfg.Face.Threshold != 0.6 {
		t.Fatalf("unexpected face threshold: %v", cfg.Face.Threshold)
	}
	if cfg.CheckTimeout() != 3*time.Second {
		t.Fatalf("unexpected check timeout: %v", cfg.CheckTimeout())
	}
	if cfg.SnapshotCooldown() != 10*time.Second {
		t.Fatalf("unexpected cooldown: %v", cfg.SnapshotCooldown())
	}
	if cfg.ChunkDuration() != 300*time.Second || cfg.ImageInterval() != 5*time.Second {
		t.Fatalf("unexpected chunk settings: %v / %v", cfg.ChunkDuration(), cfg.ImageInterval())
	}
	if cfg.Metrics.Bind != "" {
		t.Fatalf("expected metrics disabled by default, got %q", cfg.Metrics.Bind)
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	content := `
[paths]
staging_dir = "~/captures"

[capture]
mode = "Chunked"

[upload]
base_url = "http://backend.local:5001/"

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.StagingDir != filepath.Join(tempHome, "captures") {
		t.Fatalf("unexpected staging dir: %q", cfg.Paths.StagingDir)
	}
	if !cfg.Chunked() {
		t.Fatal("expected chunked mode")
	}
	if cfg.Upload.BaseURL != "http://backend.local:5001" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Upload.BaseURL)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestEnvironmentOverridesUploadURL(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MEMORYCAM_UPLOAD_URL", "https://ingest.example.com")
	t.Setenv("MEMORYCAM_CHECK_URL", "http://probe.example.com/health")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Upload.BaseURL != "https://ingest.example.com" {
		t.Fatalf("unexpected upload url: %q", cfg.Upload.BaseURL)
	}
	if cfg.Network.CheckURL != "http://probe.example.com/health" {
		t.Fatalf("unexpected check url: %q", cfg.Network.CheckURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"mode", func(c *config.Config) { c.Capture.Mode = "burst" }, "capture.mode"},
		{"threshold", func(c *config.Config) { c.Face.Threshold = 0 }, "face.threshold"},
		{"quality", func(c *config.Config) { c.Camera.JPEGQuality = 101 }, "camera.jpeg_quality"},
		{"channels", func(c *config.Config) { c.Audio.Channels = 6 }, "audio.channels"},
		{"interval", func(c *config.Config) { c.Upload.OfflineSeconds = 0 }, "upload.offline_seconds"},
		{"url", func(c *config.Config) { c.Upload.BaseURL = "ftp://host" }, "upload.base_url"},
		{"min kbps", func(c *config.Config) { c.Upload.MinKbps = 0 }, "upload.min_kbps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSampleConfigDecodesAndValidates(t *testing.T) {
	cfg := config.Default()
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &cfg); err != nil {
		t.Fatalf("decode sample config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[upload]") {
		t.Fatalf("sample config missing upload section")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.QueueDir = filepath.Join(base, "queue")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.QueueDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q", dir)
		}
	}
}

// chdirForTest mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
