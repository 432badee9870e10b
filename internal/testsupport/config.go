package testsupport

import (
	"path/filepath"
	"testing"

	"memorycam/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*ConfigBuilder)

// ConfigBuilder holds the config under construction.
type ConfigBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.QueueDir = filepath.Join(base, "queue")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.EnrollmentPath = filepath.Join(base, "faces.json")
	cfgVal.Network.CheckURL = "http://127.0.0.1:0/unreachable"
	cfgVal.Upload.BaseURL = "http://127.0.0.1:0"
	cfgVal.Artifact.MinFreeMB = 0
	cfgVal.Queue.PollIntervalSeconds = 1

	builder := &ConfigBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return builder.cfg
}

// Config exposes the config under construction for ad hoc tweaks.
func (b *ConfigBuilder) Config() *config.Config {
	return b.cfg
}

// WithUploadURL points uploads at a test server.
func WithUploadURL(url string) ConfigOption {
	return func(b *ConfigBuilder) {
		b.cfg.Upload.BaseURL = url
	}
}

// WithCheckURL points the reachability probe at a test server.
func WithCheckURL(url string) ConfigOption {
	return func(b *ConfigBuilder) {
		b.cfg.Network.CheckURL = url
	}
}

// WithMode selects the pipeline mode.
func WithMode(mode string) ConfigOption {
	return func(b *ConfigBuilder) {
		b.cfg.Capture.Mode = mode
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
