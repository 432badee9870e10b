package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"memorycam/internal/artifact"
	"memorycam/internal/logging"
	"memorycam/internal/metrics"
	"memorycam/internal/queue"
	"memorycam/internal/upload"
)

// JobQueue is the subset of the queue store the worker needs.
type JobQueue interface {
	WaitForJobs(ctx context.Context) error
	IsEmpty(ctx context.Context) (bool, error)
	TryDequeue(ctx context.Context) (*queue.Job, error)
	Ack(ctx context.Context, id int64) error
	Release(ctx context.Context, id int64, cause error) error
	Size(ctx context.Context) (int, error)
}

// Uploader delivers a job to the backend.
type Uploader interface {
	Upload(ctx context.Context, job *queue.Job) (upload.Result, error)
}

// Prober reports uplink reachability.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// Options sets the worker's wait periods.
type Options struct {
	Idle    time.Duration
	Offline time.Duration
}

// Outcome is the result of one worker step.
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeOffline
	OutcomeDelivered
	OutcomeReleased
	OutcomeMissing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOffline:
		return "offline"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeReleased:
		return "released"
	case OutcomeMissing:
		return "missing"
	default:
		return "idle"
	}
}

// Worker uploads queued jobs one at a time.
type Worker struct {
	queue    JobQueue
	uploader Uploader
	prober   Prober
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	reachable bool
	lastErr   error
	lastJob   *queue.Job
	lastSent  time.Time
	delivered int64
	released  int64
}

// NewWorker wires a worker.
func NewWorker(q JobQueue, uploader Uploader, prober Prober, opts Options, logger *slog.Logger, rec *metrics.Recorder) *Worker {
	if opts.Idle <= 0 {
		opts.Idle = 5 * time.Second
	}
	if opts.Offline <= 0 {
		opts.Offline = 5 * time.Second
	}
	return &Worker{
		queue:    q,
		uploader: uploader,
		prober:   prober,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "uploader"),
		metrics:  rec,
		now:      time.Now,
	}
}

// Start runs the worker in the background until Stop or ctx cancellation.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("upload worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go func() {
		defer close(done)
		_ = w.Run(runCtx)
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()
	return nil
}

// Stop cancels the background loop and waits for the in-flight job to be
// acknowledged or released.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run loops until ctx is done. Reachability is only probed once the queue
// holds work, and a failed upload waits one idle period before the next
// attempt.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("upload worker started",
		logging.Duration("idle", w.opts.Idle),
		logging.Duration("offline", w.opts.Offline),
	)
	for ctx.Err() == nil {
		if err := w.queue.WaitForJobs(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.fetchFailed(err)
			w.wait(ctx, w.opts.Idle)
			continue
		}
		if !w.checkReachable(ctx) {
			w.wait(ctx, w.opts.Offline)
			continue
		}

		job, err := w.queue.TryDequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.fetchFailed(err)
			w.wait(ctx, w.opts.Idle)
			continue
		}
		if job == nil {
			// Everything stored is leased elsewhere.
			w.wait(ctx, w.opts.Idle)
			continue
		}
		if w.process(ctx, job) == OutcomeReleased {
			w.wait(ctx, w.opts.Idle)
		}
	}
	return nil
}

// RunOnce performs a single step: queue check, reachability check, then at
// most one job.
func (w *Worker) RunOnce(ctx context.Context) (Outcome, error) {
	empty, err := w.queue.IsEmpty(ctx)
	if err != nil {
		w.setLastError(err)
		return OutcomeIdle, err
	}
	if empty {
		return OutcomeIdle, nil
	}
	if !w.checkReachable(ctx) {
		return OutcomeOffline, nil
	}
	job, err := w.queue.TryDequeue(ctx)
	if err != nil {
		w.setLastError(err)
		return OutcomeIdle, err
	}
	if job == nil {
		return OutcomeIdle, nil
	}
	return w.process(ctx, job), nil
}

// Drain uploads until the queue is empty, the uplink drops, a job fails,
// or ctx expires. It returns the number of jobs acknowledged.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	count := 0
	for ctx.Err() == nil {
		outcome, err := w.RunOnce(ctx)
		if err != nil {
			return count, err
		}
		switch outcome {
		case OutcomeDelivered, OutcomeMissing:
			count++
		default:
			return count, nil
		}
	}
	return count, nil
}

func (w *Worker) process(ctx context.Context, job *queue.Job) Outcome {
	// Ack and release must land even when shutdown interrupts the upload.
	settleCtx := context.WithoutCancel(ctx)
	logger := logging.WithContext(logging.WithJob(ctx, job.ID, string(job.Kind)), w.logger)

	start := w.now()
	result, err := w.uploader.Upload(ctx, job)
	elapsed := w.now().Sub(start)
	w.setLastJob(job)

	switch {
	case err == nil:
		w.removeFiles(logger, job)
		if ackErr := w.queue.Ack(settleCtx, job.ID); ackErr != nil {
			w.setLastError(ackErr)
			logger.Error("ack failed after delivery",
				logging.Error(ackErr),
				logging.String(logging.FieldImpact, "job will be acknowledged on its next attempt"),
			)
		}
		w.metrics.UploadFinished(string(job.Kind), metrics.OutcomeSuccess, elapsed)
		w.recordDelivered()
		logger.Info("upload delivered",
			logging.Int("status", result.StatusCode),
			logging.Int64("bytes", result.Bytes),
			logging.Duration("elapsed", elapsed),
			logging.Int("attempts", job.Attempts+1),
		)
		if len(result.Skipped) > 0 {
			logging.WarnWithContext(logger, "batch images missing at upload", "batch_images_missing",
				logging.Any("paths", result.Skipped),
				logging.String(logging.FieldImpact, "batch delivered without these images"),
			)
		}
		w.updateBacklog(settleCtx)
		return OutcomeDelivered

	case errors.Is(err, upload.ErrMissingArtifact):
		w.removeFiles(logger, job)
		if ackErr := w.queue.Ack(settleCtx, job.ID); ackErr != nil {
			w.setLastError(ackErr)
			logger.Error("ack failed for missing artifact", logging.Error(ackErr))
		}
		w.metrics.UploadFinished(string(job.Kind), metrics.OutcomeMissing, elapsed)
		logging.WarnWithContext(logger, "artifact already gone; assuming earlier delivery", "artifact_missing",
			logging.String(logging.FieldArtifactPath, job.Artifact.Path),
			logging.String(logging.FieldErrorHint, "expected after a crash between delete and ack"),
			logging.String(logging.FieldImpact, "job acknowledged without upload"),
		)
		w.updateBacklog(settleCtx)
		return OutcomeMissing

	default:
		w.setLastError(err)
		if relErr := w.queue.Release(settleCtx, job.ID, err); relErr != nil {
			logger.Error("release failed", logging.Error(relErr),
				logging.String(logging.FieldImpact, "job becomes visible again when its lease expires"))
		}
		outcome := metrics.OutcomeFailure
		var statusErr *upload.StatusError
		if errors.As(err, &statusErr) {
			outcome = metrics.OutcomeRejected
		}
		w.metrics.UploadFinished(string(job.Kind), outcome, elapsed)
		w.recordReleased()
		logging.WarnWithContext(logger, "upload failed; job kept for retry", "upload_failed",
			logging.Error(err),
			logging.Int("attempts", job.Attempts+1),
			logging.String(logging.FieldErrorHint, "check upload.base_url and backend availability"),
			logging.String(logging.FieldImpact, "artifact stays queued"),
		)
		return OutcomeReleased
	}
}

func (w *Worker) removeFiles(logger *slog.Logger, job *queue.Job) {
	for _, path := range job.Paths() {
		if err := artifact.Remove(path); err != nil {
			logging.WarnWithContext(logger, "failed to delete uploaded artifact", "artifact_cleanup_failed",
				logging.String(logging.FieldArtifactPath, path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file left in staging"),
			)
		}
	}
}

func (w *Worker) fetchFailed(err error) {
	w.setLastError(err)
	w.logger.Error("failed to fetch next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
}

func (w *Worker) checkReachable(ctx context.Context) bool {
	ok := w.prober == nil || w.prober.Reachable(ctx)
	w.mu.Lock()
	changed := w.reachable != ok
	w.reachable = ok
	w.mu.Unlock()
	w.metrics.SetReachable(ok)
	if changed && ctx.Err() == nil {
		if ok {
			w.logger.Info("uplink reachable")
		} else {
			w.logger.Info("uplink unreachable; holding uploads", logging.Duration("recheck", w.opts.Offline))
		}
	}
	return ok
}

func (w *Worker) updateBacklog(ctx context.Context) {
	if size, err := w.queue.Size(ctx); err == nil {
		w.metrics.SetBacklog(size)
	}
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
