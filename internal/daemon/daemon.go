package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"memorycam/internal/artifact"
	"memorycam/internal/config"
	"memorycam/internal/logging"
	"memorycam/internal/metrics"
	"memorycam/internal/queue"
	"memorycam/internal/workflow"
)

// Component is a long-running producer. Run returns nil on cancellation and
// an error when its device is unusable. Subsystems lists the udev
// subsystems whose hotplug events should restart a stopped component.
type Component struct {
	Name       string
	Subsystems []string
	Run        func(ctx context.Context) error
}

type componentState struct {
	Component

	running  bool
	lastErr  error
	restarts int
	started  time.Time
}

// ComponentStatus reports one producer.
type ComponentStatus struct {
	Name      string
	Running   bool
	LastError string
	Restarts  int
	Started   time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Mode         string
	Worker       workflow.Status
	Queue        queue.Summary
	Components   []ComponentStatus
	QueueDBPath  string
	LockFilePath string
}

// Daemon owns the process lifecycle.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	worker    *workflow.Worker
	metrics   *metrics.Recorder
	artifacts *artifact.Store

	lockPath string
	lock     *flock.Flock

	netlink *netlinkMonitor
	api     *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	components []*componentState
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, worker *workflow.Worker, rec *metrics.Recorder, components ...Component) (*Daemon, error) {
	if cfg == nil || store == nil || worker == nil {
		return nil, errors.New("daemon requires config, store, and upload worker")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		worker:    worker,
		metrics:   rec,
		artifacts: artifact.NewStore(cfg.Paths.StagingDir, cfg.Artifact.MinFreeMB),
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	for _, c := range components {
		if c.Run == nil {
			continue
		}
		d.components = append(d.components, &componentState{Component: c})
	}
	d.netlink = newNetlinkMonitor(logger, d.subsystems(), d.handleDeviceEvent)
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock, recovers the queue, and launches the
// producers and upload worker.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another memorycam daemon instance is already running")
	}

	recovered, err := d.store.RecoverLeases(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover queue leases: %w", err)
	}
	if recovered > 0 {
		d.logger.Info("recovered jobs leased by a previous run", logging.Int64("count", recovered))
	}
	if swept := d.artifacts.CleanPartials(d.logger); len(swept.Removed) > 0 {
		d.logger.Info("removed unfinished staging files", logging.Int("count", len(swept.Removed)))
	}
	if size, err := d.store.Size(ctx); err == nil {
		d.metrics.SetBacklog(size)
		d.logger.Info("queue opened", logging.Int("backlog", size), logging.String("path", d.store.Path()))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.ctx, d.cancel = runCtx, cancel
	d.mu.Unlock()
	if err := d.worker.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start upload worker: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.worker.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	components := append([]*componentState(nil), d.components...)
	d.mu.Unlock()
	for _, c := range components {
		d.launch(c)
	}
	_ = d.netlink.Start(runCtx)

	d.running.Store(true)
	d.logger.Info("memorycam daemon started",
		logging.String("lock", d.lockPath),
		logging.String("mode", d.cfg.Capture.Mode),
		logging.Int("components", len(components)),
	)
	return nil
}

// Stop shuts producers down, drains the queue once within the configured
// bound, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.netlink.Stop()
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	// Producers enqueue their in-flight artifact before returning.
	d.wg.Wait()
	d.worker.Stop()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(d.cfg.Upload.DrainTimeoutSeconds)*time.Second)
	delivered, err := d.worker.Drain(drainCtx)
	drainCancel()
	if err != nil {
		d.logger.Warn("final drain failed", logging.Error(err))
	}
	remaining, _ := d.store.Size(context.Background())
	d.logger.Info("final drain finished",
		logging.Int("delivered", delivered),
		logging.Int("remaining", remaining),
	)

	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.mu.Lock()
	d.ctx = nil
	d.mu.Unlock()
	d.running.Store(false)
	d.logger.Info("memorycam daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	summary, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	d.mu.Lock()
	components := make([]ComponentStatus, 0, len(d.components))
	for _, c := range d.components {
		status := ComponentStatus{Name: c.Name, Running: c.running, Restarts: c.restarts, Started: c.started}
		if c.lastErr != nil {
			status.LastError = c.lastErr.Error()
		}
		components = append(components, status)
	}
	d.mu.Unlock()
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Mode:         d.cfg.Capture.Mode,
		Worker:       d.worker.Status(),
		Queue:        summary,
		Components:   components,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
}

func (d *Daemon) launch(c *componentState) {
	d.mu.Lock()
	if c.running || d.ctx == nil || d.ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	ctx := d.ctx
	c.running = true
	c.started = time.Now()
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		logger := d.logger.With(logging.String("producer", c.Name))
		err := c.Run(ctx)

		d.mu.Lock()
		c.running = false
		c.lastErr = err
		d.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			logging.WarnWithContext(logger, "producer stopped on device error", "producer_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "reconnect the device; it restarts on hotplug"),
				logging.String(logging.FieldImpact, "no new "+c.Name+" artifacts until restart"),
			)
		}
	}()
}

func (d *Daemon) subsystems() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range d.components {
		for _, s := range c.Subsystems {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// handleDeviceEvent restarts stopped producers that use subsystem.
func (d *Daemon) handleDeviceEvent(subsystem string) int {
	d.mu.Lock()
	var targets []*componentState
	for _, c := range d.components {
		if c.running {
			continue
		}
		for _, s := range c.Subsystems {
			if s == subsystem {
				targets = append(targets, c)
				break
			}
		}
	}
	for _, c := range targets {
		c.restarts++
	}
	d.mu.Unlock()

	for _, c := range targets {
		d.logger.Info("restarting producer after device hotplug",
			logging.String("producer", c.Name),
			logging.String("subsystem", subsystem),
		)
		d.launch(c)
	}
	return len(targets)
}
