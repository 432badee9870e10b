package daemonrun

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"memorycam/internal/artifact"
	"memorycam/internal/audio"
	"memorycam/internal/camera"
	"memorycam/internal/chunker"
	"memorycam/internal/config"
	"memorycam/internal/daemon"
	"memorycam/internal/faceid"
	"memorycam/internal/logging"
	"memorycam/internal/metrics"
	"memorycam/internal/queue"
)

// udev subsystems that carry cameras and microphones.
const (
	subsystemVideo = "video4linux"
	subsystemSound = "sound"
)

// BuildComponents wires the producers for the configured pipeline mode.
func BuildComponents(cfg *config.Config, store *queue.Store, logger *slog.Logger, rec *metrics.Recorder) ([]daemon.Component, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("config and queue store are required")
	}
	artifacts := artifact.NewStore(cfg.Paths.StagingDir, cfg.Artifact.MinFreeMB)

	detector, identifier, err := buildIdentification(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Chunked() {
		return buildChunked(cfg, store, artifacts, detector, identifier, logger, rec)
	}

	var components []daemon.Component
	if cfg.Camera.Enabled {
		shooter := newShooter(cfg, artifacts, detector, identifier, logger)
		capturer := camera.NewCapturer(shooter, detector, store, camera.Options{
			ProbePath:     cfg.ProbePath(),
			ProbeInterval: cfg.ProbeInterval(),
			Cooldown:      cfg.SnapshotCooldown(),
			ProbeMaxWidth: cfg.Camera.ProbeMaxWidth,
		}, logger, rec)
		components = append(components, daemon.Component{
			Name:       "camera",
			Subsystems: []string{subsystemVideo},
			Run:        capturer.Run,
		})
	}
	if cfg.Audio.Enabled {
		producer := audio.NewProducer(newRecorder(cfg, artifacts), store, cfg.ClipDuration(), logger, rec)
		components = append(components, daemon.Component{
			Name:       "audio",
			Subsystems: []string{subsystemSound},
			Run:        producer.Run,
		})
	}
	if len(components) == 0 {
		logging.WarnWithContext(logging.NewComponentLogger(logger, "daemonrun"),
			"no producers enabled", "no_producers",
			logging.String(logging.FieldErrorHint, "enable camera or audio in the config"),
			logging.String(logging.FieldImpact, "daemon only uploads what is already queued"),
		)
	}
	return components, nil
}

func buildChunked(cfg *config.Config, store *queue.Store, artifacts *artifact.Store, detector faceid.Detector, identifier *faceid.Identifier, logger *slog.Logger, rec *metrics.Recorder) ([]daemon.Component, error) {
	if !cfg.Audio.Enabled {
		return nil, errors.New("chunked mode requires audio.enabled")
	}
	subsystems := []string{subsystemSound}

	// Left as a nil interface when the camera is off so the matcher
	// produces audio-only batches.
	var shooter chunker.Snapshotter
	if cfg.Camera.Enabled {
		if !cfg.Chunker.TagImages {
			detector, identifier = nil, nil
		}
		shooter = newShooter(cfg, artifacts, detector, identifier, logger)
		subsystems = append(subsystems, subsystemVideo)
	}

	matcher := chunker.NewMatcher(newRecorder(cfg, artifacts), shooter, store, chunker.Options{
		ChunkLength:   cfg.ChunkDuration(),
		ImageInterval: cfg.ImageInterval(),
	}, logger, rec)
	return []daemon.Component{{
		Name:       "chunker",
		Subsystems: subsystems,
		Run:        matcher.Run,
	}}, nil
}

// buildIdentification returns a nil detector when face identification is
// off, which leaves the camera gate open.
func buildIdentification(cfg *config.Config, logger *slog.Logger) (faceid.Detector, *faceid.Identifier, error) {
	if !cfg.Face.Enabled {
		return nil, nil, nil
	}
	detector, err := faceid.NewCommandDetector(cfg.Face.DetectorCommand,
		time.Duration(cfg.Face.DetectorTimeout)*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("face detector: %w", err)
	}
	table, err := faceid.LoadTable(cfg.Paths.EnrollmentPath)
	if err != nil {
		return nil, nil, err
	}
	if table.Len() == 0 {
		logging.WarnWithContext(logging.NewComponentLogger(logger, "daemonrun"),
			"no enrolled identities", "enrollment_empty",
			logging.String("path", cfg.Paths.EnrollmentPath),
			logging.String(logging.FieldErrorHint, "run memorycam faces enroll"),
			logging.String(logging.FieldImpact, "snapshots upload without identity tags"),
		)
	}
	return detector, faceid.NewIdentifier(table, cfg.Face.Threshold), nil
}

func newShooter(cfg *config.Config, artifacts *artifact.Store, detector faceid.Detector, identifier *faceid.Identifier, logger *slog.Logger) *camera.Shooter {
	cam := camera.NewCommandCamera(cfg.Camera.Command, time.Duration(cfg.Camera.CaptureTimeout)*time.Second)
	return camera.NewShooter(cam, artifacts, detector, identifier, camera.ShooterOptions{
		MaxWidth: cfg.Camera.MaxWidth,
		Quality:  cfg.Camera.JPEGQuality,
	}, logger)
}

func newRecorder(cfg *config.Config, artifacts *artifact.Store) *audio.Recorder {
	source := audio.NewCommandSource(cfg.Audio.Command, audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	})
	return audio.NewRecorder(source, artifacts)
}
