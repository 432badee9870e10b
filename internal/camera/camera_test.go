package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"memorycam/internal/artifact"
	"memorycam/internal/faceid"
	"memorycam/internal/logging"
	"memorycam/internal/queue"
)

type fakeCamera struct {
	mu       sync.Mutex
	width    int
	openErr  error
	failNext error
	captures int
	// onCapture runs after a frame is written, with the capture number.
	onCapture func(n int)
}

func (f *fakeCamera) Open(context.Context) error { return f.openErr }

func (f *fakeCamera) Capture(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	width := f.width
	if width == 0 {
		width = 64
	}
	img := image.NewRGBA(image.Rect(0, 0, width, width/2))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(file, img, nil); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if f.onCapture != nil {
		f.onCapture(f.captures)
	}
	return nil
}

type fakeDetector struct {
	faces []faceid.Face
	err   error
}

func (f *fakeDetector) Detect(ctx context.Context, _ string) ([]faceid.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.faces, f.err
}

type recordingQueue struct {
	jobs []*queue.Job
	err  error
}

func (r *recordingQueue) Enqueue(ctx context.Context, job *queue.Job) (*queue.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	saved := *job
	saved.ID = int64(len(r.jobs) + 1)
	r.jobs = append(r.jobs, &saved)
	return &saved, nil
}

type fixture struct {
	camera   *fakeCamera
	detector *fakeDetector
	queue    *recordingQueue
	capturer *Capturer
	staging  string
	clock    time.Time
}

func newFixture(t *testing.T, identities ...faceid.Identity) *fixture {
	t.Helper()
	staging := filepath.Join(t.TempDir(), "staging")
	f := &fixture{
		camera:   &fakeCamera{},
		detector: &fakeDetector{},
		queue:    &recordingQueue{},
		staging:  staging,
		clock:    time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	table := &faceid.Table{}
	for _, identity := range identities {
		if err := table.Enroll(identity.Name, [][]float64{identity.Embedding}); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}
	shooter := NewShooter(f.camera, artifact.NewStore(staging, 0), f.detector, faceid.NewIdentifier(table, 0.6), ShooterOptions{}, logging.NewNop())
	shooter.now = func() time.Time { return f.clock }
	f.capturer = NewCapturer(shooter, f.detector, f.queue, Options{
		ProbePath:     filepath.Join(t.TempDir(), "monitor.jpg"),
		ProbeInterval: 10 * time.Millisecond,
		Cooldown:      10 * time.Second,
		ProbeMaxWidth: 32,
	}, logging.NewNop(), nil)
	f.capturer.now = func() time.Time { return f.clock }
	return f
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read staging: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestCycleWithoutFacesEnqueuesNothing(t *testing.T) {
	f := newFixture(t)

	job, err := f.capturer.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if job != nil || len(f.queue.jobs) != 0 {
		t.Fatalf("expected no job, got %+v", job)
	}
	if files := stagedFiles(t, f.staging); len(files) != 0 {
		t.Fatalf("expected probe to stay out of staging, found %v", files)
	}
}

func TestCycleRespectsCooldown(t *testing.T) {
	f := newFixture(t)
	f.detector.faces = []faceid.Face{{Embedding: []float64{9, 9}}}
	ctx := context.Background()

	if job, err := f.capturer.Cycle(ctx); err != nil || job == nil {
		t.Fatalf("expected first snapshot, got %+v err=%v", job, err)
	}
	f.clock = f.clock.Add(5 * time.Second)
	if job, err := f.capturer.Cycle(ctx); err != nil || job != nil {
		t.Fatalf("expected cooldown to suppress snapshot, got %+v err=%v", job, err)
	}
	f.clock = f.clock.Add(5 * time.Second)
	if job, err := f.capturer.Cycle(ctx); err != nil || job == nil {
		t.Fatalf("expected snapshot after cooldown, got %+v err=%v", job, err)
	}
	if len(f.queue.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(f.queue.jobs))
	}
	if files := stagedFiles(t, f.staging); len(files) != 2 {
		t.Fatalf("expected 2 staged snapshots, got %v", files)
	}
}

func TestSnapshotTaggedWithRecognisedIdentities(t *testing.T) {
	f := newFixture(t,
		faceid.Identity{Name: "alice", Embedding: []float64{0, 0}},
		faceid.Identity{Name: "bob", Embedding: []float64{1, 1}},
	)
	f.detector.faces = []faceid.Face{
		{Embedding: []float64{1, 1.1}},
		{Embedding: []float64{5, 5}},
		{Embedding: []float64{0.1, 0}},
	}

	job, err := f.capturer.Cycle(context.Background())
	if err != nil || job == nil {
		t.Fatalf("Cycle: %+v %v", job, err)
	}
	tags := job.Artifact.Tags
	if len(tags) != 2 || tags[0] != "bob" || tags[1] != "alice" {
		t.Fatalf("unexpected tags %v", tags)
	}
	if job.Kind != queue.KindImage || !job.Artifact.CapturedAt.Equal(f.clock) {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestSnapshotFinishedDuringShutdownIsQueued(t *testing.T) {
	f := newFixture(t, faceid.Identity{Name: "alice", Embedding: []float64{0, 0}})
	f.detector.faces = []faceid.Face{{Embedding: []float64{0.1, 0}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Capture 1 is the probe, capture 2 the snapshot.
	f.camera.onCapture = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	job, err := f.capturer.Cycle(ctx)
	if err != nil || job == nil {
		t.Fatalf("expected snapshot queued after cancellation, got %+v %v", job, err)
	}
	if len(f.queue.jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(f.queue.jobs))
	}
	if tags := job.Artifact.Tags; len(tags) != 1 || tags[0] != "alice" {
		t.Fatalf("expected tags kept, got %v", tags)
	}
	if files := stagedFiles(t, f.staging); len(files) != 1 {
		t.Fatalf("expected snapshot kept in staging, found %v", files)
	}
}

func TestEnqueueFailureRemovesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.detector.faces = []faceid.Face{{}}
	f.queue.err = errors.New("disk full")

	if _, err := f.capturer.Cycle(context.Background()); err == nil {
		t.Fatal("expected enqueue error")
	}
	if files := stagedFiles(t, f.staging); len(files) != 0 {
		t.Fatalf("expected orphan snapshot removed, found %v", files)
	}
}

func TestRunStopsOnUnavailableCamera(t *testing.T) {
	f := newFixture(t)
	f.camera.openErr = ErrCameraUnavailable

	if err := f.capturer.Run(context.Background()); !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable, got %v", err)
	}
}

func TestRunSurvivesSingleCaptureFailure(t *testing.T) {
	f := newFixture(t)
	f.camera.failNext = errors.New("timeout waiting for frame")
	f.detector.faces = []faceid.Face{{}}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := f.capturer.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.queue.jobs) == 0 {
		t.Fatal("expected a snapshot after the failed capture")
	}
}

func TestDownscaleShrinksWideFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.jpg")
	cam := &fakeCamera{width: 200}
	if err := cam.Capture(context.Background(), path); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := Downscale(path, 50); err != nil {
		t.Fatalf("Downscale: %v", err)
	}
	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if img.Bounds().Dx() != 50 {
		t.Fatalf("expected width 50, got %d", img.Bounds().Dx())
	}
}
