package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"memorycam/internal/config"
	"memorycam/internal/daemon"
	"memorycam/internal/logging"
	"memorycam/internal/queue"
	"memorycam/internal/testsupport"
	"memorycam/internal/upload"
	"memorycam/internal/workflow"
)

type switchProber struct {
	online atomic.Bool
}

func (p *switchProber) Reachable(context.Context) bool { return p.online.Load() }

type harness struct {
	cfg    *config.Config
	store  *queue.Store
	prober *switchProber
	hits   *atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hits := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithUploadURL(srv.URL))
	cfg.Upload.DrainTimeoutSeconds = 5
	return &harness{
		cfg:    cfg,
		store:  testsupport.MustOpenStore(t, cfg),
		prober: &switchProber{},
		hits:   hits,
	}
}

func (h *harness) daemon(t *testing.T, components ...daemon.Component) *daemon.Daemon {
	t.Helper()
	worker := workflow.NewWorker(h.store, upload.NewClient(h.cfg.Upload.BaseURL, time.Second), h.prober,
		workflow.Options{Idle: 20 * time.Millisecond, Offline: 20 * time.Millisecond}, logging.NewNop(), nil)
	d, err := daemon.New(h.cfg, h.store, logging.NewNop(), worker, nil, components...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func size(t *testing.T, store *queue.Store) int {
	t.Helper()
	n, err := store.Size(context.Background())
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	return n
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := daemon.New(nil, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error without dependencies")
	}
}

func TestDaemonStartStop(t *testing.T) {
	h := newHarness(t)
	d := h.daemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != filepath.Join(h.cfg.Paths.QueueDir, "memorycam.lock") {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondInstanceIsRefused(t *testing.T) {
	h := newHarness(t)
	first := h.daemon(t)
	second := h.daemon(t)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected lock conflict for second instance")
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestStartRecoversLeasedJobs(t *testing.T) {
	h := newHarness(t)
	job := testsupport.EnqueueImage(t, h.cfg, h.store, "leased.jpg")
	ctx := context.Background()
	if _, err := h.store.TryDequeue(ctx); err != nil {
		t.Fatalf("TryDequeue: %v", err)
	}

	d := h.daemon(t)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, err := h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Leased {
		t.Fatalf("expected job %d to be visible again, got %+v", job.ID, got)
	}
}

func TestStopDrainsQueueWhenOnline(t *testing.T) {
	h := newHarness(t)
	first := testsupport.EnqueueImage(t, h.cfg, h.store, "one.jpg")
	second := testsupport.EnqueueAudio(t, h.cfg, h.store, "two.wav")

	d := h.daemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := size(t, h.store); got != 2 {
		t.Fatalf("offline daemon should hold jobs, size=%d", got)
	}

	h.prober.online.Store(true)
	d.Stop()

	if got := size(t, h.store); got != 0 {
		t.Fatalf("expected empty queue after drain, size=%d", got)
	}
	if h.hits.Load() != 2 {
		t.Fatalf("expected 2 uploads, got %d", h.hits.Load())
	}
	testsupport.AssertMissing(t, first.Artifact.Path)
	testsupport.AssertMissing(t, second.Artifact.Path)
}

func TestStopWaitsForProducersToEnqueue(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.cfg.Paths.StagingDir, "final.jpg")
	producer := daemon.Component{
		Name:       "camera",
		Subsystems: []string{"video4linux"},
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			testsupport.WriteFile(t, path, 64)
			_, err := h.store.Enqueue(context.WithoutCancel(ctx), queue.NewImageJob(path, time.Now(), nil))
			return err
		},
	}
	d := h.daemon(t, producer)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Stop()

	// The prober stayed offline, so the shutdown enqueue is still queued.
	if got := size(t, h.store); got != 1 {
		t.Fatalf("expected the final artifact queued, size=%d", got)
	}
	testsupport.AssertExists(t, path)
}

func TestFailedProducerReportedInStatus(t *testing.T) {
	h := newHarness(t)
	broken := daemon.Component{
		Name: "microphone",
		Run: func(context.Context) error {
			return errors.New("no capture device")
		},
	}
	d := h.daemon(t, broken)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status := d.Status(ctx)
		if len(status.Components) != 1 {
			t.Fatalf("expected 1 component, got %d", len(status.Components))
		}
		c := status.Components[0]
		if !c.Running && c.LastError != "" {
			if c.LastError != "no capture device" {
				t.Fatalf("unexpected error %q", c.LastError)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("component never reported failure: %+v", c)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !d.Status(ctx).Running {
		t.Fatal("daemon should keep running after a producer fails")
	}
}
