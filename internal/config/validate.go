package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateFace(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateURLs(); err != nil {
		return err
	}
	if c.Artifact.MinFreeMB < 0 {
		return errors.New("artifact.min_free_mb must be >= 0")
	}
	return nil
}

func (c *Config) validateCapture() error {
	switch c.Capture.Mode {
	case ModeContinuous, ModeChunked:
		return nil
	default:
		return fmt.Errorf("capture.mode must be %q or %q, got %q", ModeContinuous, ModeChunked, c.Capture.Mode)
	}
}

func (c *Config) validateIntervals() error {
	return ensurePositiveMap(map[string]int{
		"camera.probe_interval_seconds":  c.Camera.ProbeIntervalSeconds,
		"camera.capture_timeout":         c.Camera.CaptureTimeout,
		"face.detector_timeout":          c.Face.DetectorTimeout,
		"audio.clip_seconds":             c.Audio.ClipSeconds,
		"chunker.chunk_seconds":          c.Chunker.ChunkSeconds,
		"chunker.image_interval_seconds": c.Chunker.ImageIntervalSeconds,
		"queue.lease_seconds":            c.Queue.LeaseSeconds,
		"queue.poll_interval_seconds":    c.Queue.PollIntervalSeconds,
		"upload.timeout_seconds":         c.Upload.TimeoutSeconds,
		"upload.min_kbps":                c.Upload.MinKbps,
		"upload.idle_seconds":            c.Upload.IdleSeconds,
		"upload.offline_seconds":         c.Upload.OfflineSeconds,
		"upload.drain_timeout_seconds":   c.Upload.DrainTimeoutSeconds,
		"network.check_timeout_seconds":  c.Network.CheckTimeoutSeconds,
	})
}

func (c *Config) validateCamera() error {
	if c.Camera.CooldownSeconds < 0 {
		return errors.New("camera.cooldown_seconds must be >= 0")
	}
	if c.Camera.ProbeMaxWidth < 0 || c.Camera.MaxWidth < 0 {
		return errors.New("camera widths must be >= 0")
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return errors.New("camera.jpeg_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateFace() error {
	if c.Face.Threshold <= 0 {
		return errors.New("face.threshold must be positive")
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return errors.New("audio.channels must be 1 or 2")
	}
	return nil
}

func (c *Config) validateURLs() error {
	for key, value := range map[string]string{
		"upload.base_url":   c.Upload.BaseURL,
		"network.check_url": c.Network.CheckURL,
	} {
		parsed, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", key, value)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
