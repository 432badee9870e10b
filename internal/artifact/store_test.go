package artifact

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"memorycam/internal/logging"
)

func TestWriteProducesNamedArtifact(t *testing.T) {
	store := NewStore(t.TempDir(), 0)
	at := time.Date(2025, 3, 4, 10, 5, 6, 789000, time.UTC)

	path, err := store.Write("image", "jpg", at, func(w io.Writer) error {
		_, err := io.WriteString(w, "jpeg-bytes")
		return err
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "image_20250304_100506_000789_") || !strings.HasSuffix(base, ".jpg") {
		t.Fatalf("unexpected artifact name %q", base)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected content %q err=%v", data, err)
	}
}

func TestNamesAreUniqueForSameInstant(t *testing.T) {
	at := time.Now()
	if Name("audio", "wav", at) == Name("audio", "wav", at) {
		t.Fatal("expected unique names for the same timestamp")
	}
}

func TestFailedWriteLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 0)

	_, err := store.Write("audio", "wav", time.Now(), func(w io.Writer) error {
		_, _ = io.WriteString(w, "half a header")
		return errors.New("device vanished")
	})
	if err == nil {
		t.Fatal("expected write error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty staging dir, found %d entries", len(entries))
	}
}

func TestEnsureSpaceRefusesWhenLow(t *testing.T) {
	store := NewStore(t.TempDir(), 10)
	store.freeSpace = func(string) (uint64, error) { return 1 << 20, nil }

	_, err := store.Write("image", "jpg", time.Now(), func(io.Writer) error { return nil })
	if !errors.Is(err, ErrLowDiskSpace) {
		t.Fatalf("expected ErrLowDiskSpace, got %v", err)
	}
}

func TestRemoveIgnoresMissingFile(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "gone.jpg")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestCleanPartialsKeepsFinishedArtifacts(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 0)
	finished := filepath.Join(dir, "image_1.jpg")
	partial := filepath.Join(dir, ".image_2.jpg.part")
	for _, p := range []string{finished, partial} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	result := store.CleanPartials(logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != partial {
		t.Fatalf("unexpected removal %v", result.Removed)
	}
	if !Exists(finished) {
		t.Fatal("expected finished artifact to remain")
	}
}
