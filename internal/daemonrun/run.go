package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"memorycam/internal/config"
	"memorycam/internal/daemon"
	"memorycam/internal/logging"
	"memorycam/internal/metrics"
	"memorycam/internal/netcheck"
	"memorycam/internal/preflight"
	"memorycam/internal/queue"
	"memorycam/internal/upload"
	"memorycam/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the memorycam pipeline and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(opts.LogLevel) != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessionID := uuid.NewString()
	logger, err := logging.NewFromConfig(cfg, sessionID)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("memorycam starting",
		logging.String(logging.FieldEventType, "daemon_starting"),
		logging.String("run_id", time.Now().UTC().Format("20060102T150405.000Z")),
		logging.String("mode", cfg.Capture.Mode),
		logging.String("upload_url", cfg.Upload.BaseURL),
	)
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	rec := metrics.New()
	checker := netcheck.New(cfg.Network.CheckURL, cfg.CheckTimeout())
	client := upload.NewClient(cfg.Upload.BaseURL, cfg.UploadTimeout(), upload.WithMinThroughput(cfg.UploadMinThroughput()))
	worker := workflow.NewWorker(store, client, checker, workflow.Options{
		Idle:    time.Duration(cfg.Upload.IdleSeconds) * time.Second,
		Offline: time.Duration(cfg.Upload.OfflineSeconds) * time.Second,
	}, logger, rec)

	components, err := BuildComponents(cfg, store, logger, rec)
	if err != nil {
		store.Close()
		return err
	}

	d, err := daemon.New(cfg, store, logger, worker, rec, components...)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("memorycam shutting down", logging.String(logging.FieldEventType, "daemon_stopping"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	for _, status := range preflight.CheckSystemDeps(ctx, cfg) {
		attrs := []logging.Attr{
			logging.String("dependency", status.Name),
			logging.String("command", status.Command),
			logging.Bool("available", status.Available),
		}
		if status.Available || status.Optional {
			attrs = append(attrs, logging.String(logging.FieldEventType, "dependency_snapshot"))
			logger.Info("dependency snapshot", logging.Args(attrs...)...)
			continue
		}
		logging.WarnWithContext(logger, "dependency missing", "dependency_missing",
			append(attrs,
				logging.String(logging.FieldErrorHint, status.Description),
				logging.String(logging.FieldImpact, "producer fails until the tool is installed"),
			)...,
		)
	}
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "capture or upload may fail"),
		)
	}
}
