package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"memorycam/internal/artifact"
	"memorycam/internal/logging"
	"memorycam/internal/metrics"
	"memorycam/internal/queue"
)

// Enqueuer accepts finished jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) (*queue.Job, error)
}

// Producer records back-to-back clips and enqueues each one as an audio job.
type Producer struct {
	recorder *Recorder
	queue    Enqueuer
	clip     time.Duration
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// NewProducer builds a producer for fixed-length clips.
func NewProducer(recorder *Recorder, q Enqueuer, clip time.Duration, logger *slog.Logger, rec *metrics.Recorder) *Producer {
	return &Producer{
		recorder: recorder,
		queue:    q,
		clip:     clip,
		logger:   logging.NewComponentLogger(logger, "audio"),
		metrics:  rec,
	}
}

// Run records until ctx is done. The clip in progress at cancellation is
// cut short, written, and enqueued before Run returns. Device failures end
// the producer with an error.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("audio capture started", logging.Duration("clip", p.clip))
	for ctx.Err() == nil {
		clip, err := p.recorder.Record(ctx, p.clip)
		if err != nil {
			if errors.Is(err, ErrDeviceUnavailable) {
				return err
			}
			if clip.DeviceErr != nil {
				return fmt.Errorf("microphone: %w", clip.DeviceErr)
			}
			p.metrics.CaptureFailed("microphone")
			logging.WarnWithContext(p.logger, "audio clip lost", "audio_clip_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check staging disk space"),
				logging.String(logging.FieldImpact, "clip skipped; recording continues"),
			)
			if errors.Is(err, artifact.ErrLowDiskSpace) {
				if !sleepCtx(ctx, p.clip) {
					return nil
				}
			}
			continue
		}
		if err := p.enqueue(ctx, clip); err != nil {
			p.logger.Error("enqueue audio clip failed", logging.Error(err), logging.String(logging.FieldArtifactPath, clip.Path))
			_ = artifact.Remove(clip.Path)
		}
		if clip.DeviceErr != nil {
			p.metrics.CaptureFailed("microphone")
			return fmt.Errorf("microphone: %w", clip.DeviceErr)
		}
	}
	return nil
}

func (p *Producer) enqueue(ctx context.Context, clip Clip) error {
	// The final clip is enqueued after cancellation.
	job, err := p.queue.Enqueue(context.WithoutCancel(ctx), queue.NewAudioJob(clip.Path, clip.Start))
	if err != nil {
		return err
	}
	p.metrics.ArtifactCaptured(string(queue.KindAudio))
	p.logger.Info("audio clip enqueued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldArtifactPath, clip.Path),
		logging.Duration("duration", clip.Duration()),
		logging.Int("frames", clip.Frames),
	)
	return nil
}

// Record captures a single clip of at most length. It returns early when ctx
// is cancelled or the device stops, always with whatever was captured.
func (r *Recorder) Record(ctx context.Context, length time.Duration) (Clip, error) {
	if err := r.StartRecording(ctx); err != nil {
		return Clip{}, err
	}
	timer := time.NewTimer(length)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-r.Done():
	}
	return r.StopRecording()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
