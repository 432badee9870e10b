package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeCommands()
	c.normalizeUpload()
	c.normalizeNetwork()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.QueueDir) == "" {
		c.Paths.QueueDir = defaultQueueDir
	}
	if c.Paths.QueueDir, err = expandPath(c.Paths.QueueDir); err != nil {
		return fmt.Errorf("paths.queue_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.EnrollmentPath) == "" {
		c.Paths.EnrollmentPath = defaultEnrollmentPath
	}
	if c.Paths.EnrollmentPath, err = expandPath(c.Paths.EnrollmentPath); err != nil {
		return fmt.Errorf("paths.enrollment_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.Mode = strings.ToLower(strings.TrimSpace(c.Capture.Mode))
	if c.Capture.Mode == "" {
		c.Capture.Mode = defaultMode
	}
}

func (c *Config) normalizeCommands() {
	c.Camera.Command = trimArgs(c.Camera.Command)
	if len(c.Camera.Command) == 0 {
		c.Camera.Command = append([]string(nil), defaultCameraCommand...)
	}
	c.Audio.Command = trimArgs(c.Audio.Command)
	if len(c.Audio.Command) == 0 {
		c.Audio.Command = append([]string(nil), defaultAudioCommand...)
	}
	c.Face.DetectorCommand = trimArgs(c.Face.DetectorCommand)
	if len(c.Face.DetectorCommand) == 0 {
		c.Face.DetectorCommand = append([]string(nil), defaultDetectorCommand...)
	}
}

func (c *Config) normalizeUpload() {
	c.Upload.BaseURL = strings.TrimSpace(c.Upload.BaseURL)
	if value, ok := os.LookupEnv("MEMORYCAM_UPLOAD_URL"); ok && strings.TrimSpace(value) != "" {
		c.Upload.BaseURL = strings.TrimSpace(value)
	}
	if c.Upload.BaseURL == "" {
		c.Upload.BaseURL = defaultUploadBaseURL
	}
	c.Upload.BaseURL = strings.TrimRight(c.Upload.BaseURL, "/")
}

func (c *Config) normalizeNetwork() {
	c.Network.CheckURL = strings.TrimSpace(c.Network.CheckURL)
	if value, ok := os.LookupEnv("MEMORYCAM_CHECK_URL"); ok && strings.TrimSpace(value) != "" {
		c.Network.CheckURL = strings.TrimSpace(value)
	}
	if c.Network.CheckURL == "" {
		c.Network.CheckURL = defaultCheckURL
	}
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	c.Metrics.Token = strings.TrimSpace(c.Metrics.Token)
	if value, ok := os.LookupEnv("MEMORYCAM_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Metrics.Token = strings.TrimSpace(value)
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func trimArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
