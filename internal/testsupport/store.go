package testsupport

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"memorycam/internal/config"
	"memorycam/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EnqueueImage stages a small image file under the staging directory and
// enqueues it.
func EnqueueImage(t testing.TB, cfg *config.Config, store *queue.Store, name string, tags ...string) *queue.Job {
	t.Helper()

	path := filepath.Join(cfg.Paths.StagingDir, name)
	WriteFile(t, path, 512)
	job, err := store.Enqueue(context.Background(), queue.NewImageJob(path, time.Now(), tags))
	if err != nil {
		t.Fatalf("enqueue image: %v", err)
	}
	return job
}

// EnqueueAudio stages a small audio file under the staging directory and
// enqueues it.
func EnqueueAudio(t testing.TB, cfg *config.Config, store *queue.Store, name string) *queue.Job {
	t.Helper()

	path := filepath.Join(cfg.Paths.StagingDir, name)
	WriteFile(t, path, 1024)
	job, err := store.Enqueue(context.Background(), queue.NewAudioJob(path, time.Now()))
	if err != nil {
		t.Fatalf("enqueue audio: %v", err)
	}
	return job
}
