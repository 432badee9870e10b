package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"memorycam/internal/queue"
)

type received struct {
	path   string
	fields map[string][]string
	files  map[string][]string
	types  map[string][]string
	bodies map[string][]string
}

type backend struct {
	mu     sync.Mutex
	status int
	got    []received
	srv    *httptest.Server
}

func newBackend(t *testing.T, status int) *backend {
	t.Helper()
	b := &backend{status: status}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec := received{
			path:   r.URL.Path,
			fields: r.MultipartForm.Value,
			files:  map[string][]string{},
			types:  map[string][]string{},
			bodies: map[string][]string{},
		}
		for field, headers := range r.MultipartForm.File {
			for _, header := range headers {
				rec.files[field] = append(rec.files[field], header.Filename)
				rec.types[field] = append(rec.types[field], header.Header.Get("Content-Type"))
				file, _ := header.Open()
				data, _ := io.ReadAll(file)
				_ = file.Close()
				rec.bodies[field] = append(rec.bodies[field], string(data))
			}
		}
		b.mu.Lock()
		b.got = append(b.got, rec)
		status := b.status
		b.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("backend says hi"))
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) last(t *testing.T) received {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.got) == 0 {
		t.Fatal("backend received nothing")
	}
	return b.got[len(b.got)-1]
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

var capturedAt = time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

func TestUploadImage(t *testing.T) {
	b := newBackend(t, http.StatusCreated)
	path := writeTestFile(t, t.TempDir(), "image_1.jpg", "jpeg-bytes")
	client := NewClient(b.srv.URL+"/", time.Second)

	result, err := client.Upload(context.Background(), queue.NewImageJob(path, capturedAt, []string{"alice", "bob"}))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.StatusCode != http.StatusCreated || result.Bytes == 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	got := b.last(t)
	if got.path != "/upload/image" {
		t.Fatalf("expected /upload/image, got %s", got.path)
	}
	if got.files["image"][0] != "image_1.jpg" || got.types["image"][0] != "image/jpeg" || got.bodies["image"][0] != "jpeg-bytes" {
		t.Fatalf("unexpected file part %+v", got)
	}
	if got.fields["detected_persons"][0] != "alice,bob" {
		t.Fatalf("expected detected_persons, got %v", got.fields)
	}
	if got.fields["captured_at"][0] != "2025-01-02T10:00:00Z" {
		t.Fatalf("unexpected captured_at %v", got.fields["captured_at"])
	}
}

func TestUploadAudioOmitsEmptyTags(t *testing.T) {
	b := newBackend(t, http.StatusOK)
	path := writeTestFile(t, t.TempDir(), "audio_1.wav", "RIFF")
	if _, err := NewClient(b.srv.URL, time.Second).Upload(context.Background(), queue.NewAudioJob(path, capturedAt)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got := b.last(t)
	if got.path != "/upload/audio" || got.types["audio"][0] != "audio/wav" {
		t.Fatalf("unexpected request %+v", got)
	}
	if _, ok := got.fields["detected_persons"]; ok {
		t.Fatalf("expected no detected_persons field, got %v", got.fields)
	}
}

func TestUploadBatchSkipsMissingImages(t *testing.T) {
	b := newBackend(t, http.StatusOK)
	dir := t.TempDir()
	audioPath := writeTestFile(t, dir, "audio_1.wav", "RIFF")
	first := writeTestFile(t, dir, "image_1.jpg", "one")
	gone := filepath.Join(dir, "image_2.jpg")
	third := writeTestFile(t, dir, "image_3.jpg", "three")

	job := queue.NewBatchJob(audioPath, capturedAt, capturedAt.Add(5*time.Minute), []queue.Artifact{
		{Path: first, Kind: queue.KindImage, CapturedAt: capturedAt, Tags: []string{"alice"}},
		{Path: gone, Kind: queue.KindImage, CapturedAt: capturedAt.Add(time.Minute)},
		{Path: third, Kind: queue.KindImage, CapturedAt: capturedAt.Add(5 * time.Minute), Tags: []string{"bob", "alice"}},
	})
	result, err := NewClient(b.srv.URL, time.Second).Upload(context.Background(), job)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != gone {
		t.Fatalf("expected missing image skipped, got %v", result.Skipped)
	}
	got := b.last(t)
	if got.path != "/upload/batch" {
		t.Fatalf("expected /upload/batch, got %s", got.path)
	}
	if strings.Join(got.bodies["image"], "|") != "one|three" {
		t.Fatalf("unexpected images %v", got.bodies["image"])
	}
	if got.fields["image_timestamps"][0] != "2025-01-02T10:00:00Z,2025-01-02T10:05:00Z" {
		t.Fatalf("unexpected timestamps %v", got.fields["image_timestamps"])
	}
	if got.fields["chunk_end"][0] != "2025-01-02T10:05:00Z" {
		t.Fatalf("unexpected chunk_end %v", got.fields["chunk_end"])
	}
	if got.fields["detected_persons"][0] != "alice,bob" {
		t.Fatalf("expected union of tags, got %v", got.fields["detected_persons"])
	}
}

func TestUploadNon2xxIsStatusError(t *testing.T) {
	b := newBackend(t, http.StatusInternalServerError)
	path := writeTestFile(t, t.TempDir(), "image_1.jpg", "jpeg")
	_, err := NewClient(b.srv.URL, time.Second).Upload(context.Background(), queue.NewImageJob(path, capturedAt, nil))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if statusErr.Body != "backend says hi" {
		t.Fatalf("expected body captured, got %q", statusErr.Body)
	}
}

func TestUploadMissingPrimary(t *testing.T) {
	b := newBackend(t, http.StatusOK)
	missing := filepath.Join(t.TempDir(), "gone.jpg")
	_, err := NewClient(b.srv.URL, time.Second).Upload(context.Background(), queue.NewImageJob(missing, capturedAt, nil))
	if !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("expected ErrMissingArtifact, got %v", err)
	}
	if len(b.got) != 0 {
		t.Fatal("backend should not be contacted for a missing artifact")
	}
}

func TestUploadTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	path := writeTestFile(t, t.TempDir(), "image_1.jpg", "jpeg")
	_, err := NewClient(base, time.Second).Upload(context.Background(), queue.NewImageJob(path, capturedAt, nil))
	var statusErr *StatusError
	if err == nil || errors.As(err, &statusErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	if err := NewClient(srv.URL, time.Second).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestRequestTimeoutScalesWithBody(t *testing.T) {
	flat := NewClient("http://backend", 10*time.Second)
	if got := flat.RequestTimeout(26 << 20); got != 10*time.Second {
		t.Fatalf("expected flat timeout without throughput, got %s", got)
	}

	// 256 kbit/s is 32000 bytes/s.
	scaled := NewClient("http://backend", 10*time.Second, WithMinThroughput(32000))
	if got := scaled.RequestTimeout(0); got != 10*time.Second {
		t.Fatalf("expected base timeout for empty body, got %s", got)
	}
	if got := scaled.RequestTimeout(3_200_000); got != 110*time.Second {
		t.Fatalf("expected 110s for 3.2 MB, got %s", got)
	}
}

func TestSlowUploadWithinBodyBudgetSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		time.Sleep(150 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	path := writeTestFile(t, t.TempDir(), "audio_1.wav", strings.Repeat("x", 1000))
	job := queue.NewAudioJob(path, capturedAt)

	// 50ms flat is too short; 1000 bytes at 2000 B/s adds 500ms.
	if _, err := NewClient(srv.URL, 50*time.Millisecond).Upload(context.Background(), job); err == nil {
		t.Fatal("expected flat timeout to cut the slow upload")
	}
	client := NewClient(srv.URL, 50*time.Millisecond, WithMinThroughput(2000))
	if _, err := client.Upload(context.Background(), job); err != nil {
		t.Fatalf("expected upload within body budget, got %v", err)
	}
}
