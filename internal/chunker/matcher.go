package chunker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"memorycam/internal/artifact"
	"memorycam/internal/audio"
	"memorycam/internal/camera"
	"memorycam/internal/logging"
	"memorycam/internal/metrics"
	"memorycam/internal/queue"
)

// ChunkRecorder records one audio chunk.
type ChunkRecorder interface {
	Record(ctx context.Context, length time.Duration) (audio.Clip, error)
}

// Snapshotter captures images.
type Snapshotter interface {
	Open(ctx context.Context) error
	Snapshot(ctx context.Context) (camera.Shot, error)
}

// Enqueuer accepts finished jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) (*queue.Job, error)
}

// Options sets the chunk and image periods.
type Options struct {
	ChunkLength   time.Duration
	ImageInterval time.Duration
}

// Matcher runs the audio producer, image producer and coordinator.
type Matcher struct {
	recorder ChunkRecorder
	shooter  Snapshotter
	queue    Enqueuer
	opts     Options
	buffer   *Buffer
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// NewMatcher wires a matcher. shooter may be nil for audio-only chunks.
func NewMatcher(recorder ChunkRecorder, shooter Snapshotter, q Enqueuer, opts Options, logger *slog.Logger, rec *metrics.Recorder) *Matcher {
	return &Matcher{
		recorder: recorder,
		shooter:  shooter,
		queue:    q,
		opts:     opts,
		buffer:   &Buffer{},
		logger:   logging.NewComponentLogger(logger, "chunker"),
		metrics:  rec,
	}
}

// Buffer exposes the shared image buffer.
func (m *Matcher) Buffer() *Buffer {
	return m.buffer
}

// Run blocks until ctx is done or the microphone fails. The chunk being
// recorded at shutdown is cut short and flushed with its images; anything
// still buffered afterwards is enqueued as standalone images.
func (m *Matcher) Run(ctx context.Context) error {
	chunks := make(chan AudioChunk)
	imagesDone := make(chan struct{})
	group, gctx := errgroup.WithContext(ctx)

	m.logger.Info("chunk matcher started",
		logging.Duration("chunk", m.opts.ChunkLength),
		logging.Duration("image_interval", m.opts.ImageInterval),
	)

	group.Go(func() error {
		defer close(chunks)
		return m.recordChunks(gctx, chunks)
	})
	group.Go(func() error {
		defer close(imagesDone)
		m.captureImages(gctx)
		return nil
	})
	group.Go(func() error {
		for chunk := range chunks {
			m.Flush(ctx, chunk)
		}
		<-imagesDone
		m.enqueueStandalone(ctx, m.buffer.Drain())
		return nil
	})
	return group.Wait()
}

func (m *Matcher) recordChunks(ctx context.Context, chunks chan<- AudioChunk) error {
	for ctx.Err() == nil {
		clip, err := m.recorder.Record(ctx, m.opts.ChunkLength)
		if err != nil {
			if errors.Is(err, audio.ErrDeviceUnavailable) {
				return err
			}
			if clip.DeviceErr != nil {
				return fmt.Errorf("microphone: %w", clip.DeviceErr)
			}
			m.metrics.CaptureFailed("microphone")
			logging.WarnWithContext(m.logger, "audio chunk lost", "audio_chunk_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check staging disk space"),
				logging.String(logging.FieldImpact, "images from this window upload individually"),
			)
			if errors.Is(err, artifact.ErrLowDiskSpace) && !sleep(ctx, m.opts.ImageInterval) {
				return nil
			}
			continue
		}
		chunks <- AudioChunk{Start: clip.Start, End: clip.End, Path: clip.Path}
		if clip.DeviceErr != nil {
			m.metrics.CaptureFailed("microphone")
			return fmt.Errorf("microphone: %w", clip.DeviceErr)
		}
	}
	return nil
}

func (m *Matcher) captureImages(ctx context.Context) {
	if m.shooter == nil {
		return
	}
	if err := m.shooter.Open(ctx); err != nil {
		logging.WarnWithContext(m.logger, "camera unavailable", "camera_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check camera connection and camera.command"),
			logging.String(logging.FieldImpact, "chunks upload without images"),
		)
		return
	}
	for {
		shot, err := m.shooter.Snapshot(ctx)
		switch {
		case err == nil:
			m.buffer.Add(ImageCapture{Timestamp: shot.CapturedAt, Path: shot.Path, Tags: shot.Tags})
			m.metrics.ArtifactCaptured(string(queue.KindImage))
		case ctx.Err() != nil:
			return
		case errors.Is(err, camera.ErrCameraUnavailable):
			logging.WarnWithContext(m.logger, "camera lost", "camera_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "remaining chunks upload without images"),
			)
			return
		default:
			m.metrics.CaptureFailed("camera")
			logging.WarnWithContext(m.logger, "image capture failed", "capture_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "frame skipped; retrying next interval"),
			)
		}
		if !sleep(ctx, m.opts.ImageInterval) {
			return
		}
	}
}

// Flush claims the buffered images for a completed chunk and enqueues them.
// Images older than the chunk go out first as standalone jobs, then the
// batch.
func (m *Matcher) Flush(ctx context.Context, chunk AudioChunk) {
	ctx = context.WithoutCancel(ctx)
	matched, early := Partition(m.buffer.TakeThrough(chunk.End), chunk)
	m.enqueueStandalone(ctx, early)

	images := make([]queue.Artifact, 0, len(matched))
	for _, image := range matched {
		images = append(images, image.artifact())
	}
	job, err := m.queue.Enqueue(ctx, queue.NewBatchJob(chunk.Path, chunk.Start, chunk.End, images))
	if err != nil {
		m.logger.Error("enqueue chunk failed",
			logging.String("chunk_id", chunk.ID()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "chunk and its images discarded"),
		)
		_ = artifact.Remove(chunk.Path)
		for _, image := range matched {
			_ = artifact.Remove(image.Path)
		}
		return
	}
	m.metrics.ArtifactCaptured(string(queue.KindBatch))
	m.logger.Info("chunk enqueued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("chunk_id", chunk.ID()),
		logging.Time("chunk_start", chunk.Start),
		logging.Time("chunk_end", chunk.End),
		logging.Int("images", len(matched)),
	)
}

func (m *Matcher) enqueueStandalone(ctx context.Context, images []ImageCapture) {
	ctx = context.WithoutCancel(ctx)
	for _, image := range images {
		job, err := m.queue.Enqueue(ctx, queue.NewImageJob(image.Path, image.Timestamp, image.Tags))
		if err != nil {
			m.logger.Error("enqueue image failed",
				logging.String(logging.FieldArtifactPath, image.Path),
				logging.Error(err),
			)
			_ = artifact.Remove(image.Path)
			continue
		}
		m.logger.Debug("unmatched image enqueued",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Time("captured_at", image.Timestamp),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
