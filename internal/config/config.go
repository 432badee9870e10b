package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Pipeline modes.
const (
	ModeContinuous = "continuous"
	ModeChunked    = "chunked"
)

// Paths contains directory configuration.
type Paths struct {
	StagingDir     string `toml:"staging_dir"`
	QueueDir       string `toml:"queue_dir"`
	LogDir         string `toml:"log_dir"`
	EnrollmentPath string `toml:"enrollment_path"`
}

// Capture selects the pipeline mode.
type Capture struct {
	Mode string `toml:"mode"`
}

// Camera contains still-capture settings.
type Camera struct {
	Enabled              bool     `toml:"enabled"`
	Command              []string `toml:"command"`
	ProbeIntervalSeconds int      `toml:"probe_interval_seconds"`
	CooldownSeconds      int      `toml:"cooldown_seconds"`
	ProbeMaxWidth        int      `toml:"probe_max_width"`
	MaxWidth             int      `toml:"max_width"`
	JPEGQuality          int      `toml:"jpeg_quality"`
	CaptureTimeout       int      `toml:"capture_timeout"`
}

// Face contains identification settings.
type Face struct {
	Enabled         bool     `toml:"enabled"`
	DetectorCommand []string `toml:"detector_command"`
	Threshold       float64  `toml:"threshold"`
	DetectorTimeout int      `toml:"detector_timeout"`
}

// Audio contains microphone settings.
type Audio struct {
	Enabled     bool     `toml:"enabled"`
	Command     []string `toml:"command"`
	SampleRate  int      `toml:"sample_rate"`
	Channels    int      `toml:"channels"`
	ClipSeconds int      `toml:"clip_seconds"`
}

// Chunker contains settings for chunked capture mode.
type Chunker struct {
	ChunkSeconds         int  `toml:"chunk_seconds"`
	ImageIntervalSeconds int  `toml:"image_interval_seconds"`
	TagImages            bool `toml:"tag_images"`
}

// Queue contains durable queue tuning.
type Queue struct {
	LeaseSeconds        int `toml:"lease_seconds"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// Upload contains remote ingestion settings.
type Upload struct {
	BaseURL             string `toml:"base_url"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	MinKbps             int    `toml:"min_kbps"`
	IdleSeconds         int    `toml:"idle_seconds"`
	OfflineSeconds      int    `toml:"offline_seconds"`
	DrainTimeoutSeconds int    `toml:"drain_timeout_seconds"`
}

// Network contains reachability probe settings.
type Network struct {
	CheckURL            string `toml:"check_url"`
	CheckTimeoutSeconds int    `toml:"check_timeout_seconds"`
}

// Artifact contains staging store limits.
type Artifact struct {
	MinFreeMB int `toml:"min_free_mb"`
}

// Metrics contains the HTTP listener serving /metrics and /api/status. An
// empty bind disables the listener; a token requires bearer auth.
type Metrics struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for memorycam.
//
// Configuration sections by subsystem:
//   - Paths: staging, queue, and log directories plus the enrollment table
//   - Capture: pipeline mode (continuous or chunked)
//   - Camera / Face: gated still capture and identification
//   - Audio: microphone clip recording
//   - Chunker: audio chunk windows and periodic images
//   - Queue / Upload / Network: durable delivery
//   - Artifact: staging disk limits
//   - Metrics / Logging: observability
type Config struct {
	Paths    Paths    `toml:"paths"`
	Capture  Capture  `toml:"capture"`
	Camera   Camera   `toml:"camera"`
	Face     Face     `toml:"face"`
	Audio    Audio    `toml:"audio"`
	Chunker  Chunker  `toml:"chunker"`
	Queue    Queue    `toml:"queue"`
	Upload   Upload   `toml:"upload"`
	Network  Network  `toml:"network"`
	Artifact Artifact `toml:"artifact"`
	Metrics  Metrics  `toml:"metrics"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/memorycam/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("memorycam.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.QueueDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueuePath returns the SQLite queue file location.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Paths.QueueDir, "queue.db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.QueueDir, "memorycam.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.QueueDir, "memorycam.pid")
}

// ProbePath returns the scratch file the camera overwrites on every probe.
func (c *Config) ProbePath() string {
	return filepath.Join(c.Paths.StagingDir, "monitor.jpg")
}

// Chunked reports whether the pipeline runs in chunk matching mode.
func (c *Config) Chunked() bool {
	return c.Capture.Mode == ModeChunked
}

// UploadTimeout returns the fixed part of the upload request budget.
func (c *Config) UploadTimeout() time.Duration {
	return seconds(c.Upload.TimeoutSeconds)
}

// UploadMinThroughput returns the slowest uplink, in bytes per second, an
// upload is given time for on top of UploadTimeout.
func (c *Config) UploadMinThroughput() int64 {
	return int64(c.Upload.MinKbps) * 1000 / 8
}

// CheckTimeout returns the reachability probe timeout.
func (c *Config) CheckTimeout() time.Duration {
	return seconds(c.Network.CheckTimeoutSeconds)
}

// ProbeInterval returns the camera probe cadence.
func (c *Config) ProbeInterval() time.Duration {
	return seconds(c.Camera.ProbeIntervalSeconds)
}

// SnapshotCooldown returns the minimum spacing between enqueued snapshots.
func (c *Config) SnapshotCooldown() time.Duration {
	return seconds(c.Camera.CooldownSeconds)
}

// ClipDuration returns the continuous-mode audio clip length.
func (c *Config) ClipDuration() time.Duration {
	return seconds(c.Audio.ClipSeconds)
}

// ChunkDuration returns the chunked-mode audio window length.
func (c *Config) ChunkDuration() time.Duration {
	return seconds(c.Chunker.ChunkSeconds)
}

// ImageInterval returns the chunked-mode image cadence.
func (c *Config) ImageInterval() time.Duration {
	return seconds(c.Chunker.ImageIntervalSeconds)
}

// LeaseDuration returns how long a dequeued job stays invisible to other consumers.
func (c *Config) LeaseDuration() time.Duration {
	return seconds(c.Queue.LeaseSeconds)
}

// PollInterval returns how often a blocked dequeue rechecks the store.
func (c *Config) PollInterval() time.Duration {
	return seconds(c.Queue.PollIntervalSeconds)
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
