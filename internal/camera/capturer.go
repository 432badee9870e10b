package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"memorycam/internal/artifact"
	"memorycam/internal/faceid"
	"memorycam/internal/logging"
	"memorycam/internal/metrics"
	"memorycam/internal/queue"
)

// Enqueuer accepts finished jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) (*queue.Job, error)
}

// Options configures the probe gate.
type Options struct {
	ProbePath     string
	ProbeInterval time.Duration
	Cooldown      time.Duration
	ProbeMaxWidth int
}

// Capturer runs the face-gated snapshot loop.
type Capturer struct {
	shooter  *Shooter
	detector faceid.Detector
	queue    Enqueuer
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time

	lastSnapshot time.Time
}

// NewCapturer wires the gate. With a nil detector every probe counts as a
// face, so a snapshot is taken once per cooldown.
func NewCapturer(shooter *Shooter, detector faceid.Detector, q Enqueuer, opts Options, logger *slog.Logger, rec *metrics.Recorder) *Capturer {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = time.Second
	}
	return &Capturer{
		shooter:  shooter,
		detector: detector,
		queue:    q,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "camera"),
		metrics:  rec,
		now:      time.Now,
	}
}

// Run probes until ctx is done. It returns an error only when the camera
// cannot be used at all; single capture failures are logged and retried on
// the next interval.
func (c *Capturer) Run(ctx context.Context) error {
	if err := c.shooter.Open(ctx); err != nil {
		return err
	}
	c.logger.Info("camera capture started",
		logging.Duration("probe_interval", c.opts.ProbeInterval),
		logging.Duration("cooldown", c.opts.Cooldown),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ProbeInterval):
		}

		if _, err := c.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrCameraUnavailable) {
				return err
			}
			c.metrics.CaptureFailed("camera")
			logging.WarnWithContext(c.logger, "capture cycle failed", "capture_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check camera connection and camera.command"),
				logging.String(logging.FieldImpact, "frame skipped; retrying next interval"),
			)
		}
	}
}

// Cycle runs one probe and, when the gate opens, captures and enqueues a
// snapshot. It returns the enqueued job or nil when the gate stayed closed.
func (c *Capturer) Cycle(ctx context.Context) (*queue.Job, error) {
	faces, err := c.probe(ctx)
	if err != nil {
		return nil, err
	}
	if faces == 0 {
		c.metrics.Probe("empty")
		return nil, nil
	}
	now := c.now()
	if !c.lastSnapshot.IsZero() && now.Sub(c.lastSnapshot) < c.opts.Cooldown {
		c.metrics.Probe("cooldown")
		return nil, nil
	}
	c.metrics.Probe("face")

	shot, err := c.shooter.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	// A finished snapshot is queued even when shutdown began during capture.
	job, err := c.queue.Enqueue(context.WithoutCancel(ctx), queue.NewImageJob(shot.Path, shot.CapturedAt, shot.Tags))
	if err != nil {
		_ = artifact.Remove(shot.Path)
		return nil, fmt.Errorf("enqueue snapshot: %w", err)
	}
	c.lastSnapshot = now
	c.metrics.ArtifactCaptured(string(queue.KindImage))
	c.logger.Info("snapshot enqueued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldArtifactPath, shot.Path),
		logging.Int("faces", faces),
		logging.Any("identities", shot.Tags),
	)
	return job, nil
}

func (c *Capturer) probe(ctx context.Context) (int, error) {
	if c.detector == nil {
		return 1, nil
	}
	if err := c.shooter.camera.Capture(ctx, c.opts.ProbePath); err != nil {
		return 0, fmt.Errorf("probe: %w", err)
	}
	if err := Downscale(c.opts.ProbePath, c.opts.ProbeMaxWidth); err != nil {
		return 0, fmt.Errorf("probe: %w", err)
	}
	faces, err := c.detector.Detect(ctx, c.opts.ProbePath)
	if err != nil {
		return 0, fmt.Errorf("probe detect: %w", err)
	}
	return len(faces), nil
}
