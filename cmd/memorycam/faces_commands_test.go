package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"memorycam/internal/config"
	"memorycam/internal/faceid"
)

type stubDetector struct {
	faces map[string][]faceid.Face
}

func (s stubDetector) Detect(_ context.Context, path string) ([]faceid.Face, error) {
	return s.faces[filepath.Base(path)], nil
}

func TestFacesEnrollListRemove(t *testing.T) {
	env := setupCLITestEnv(t)

	samples := filepath.Join(t.TempDir(), "alice.json")
	if err := os.WriteFile(samples, []byte("[[0,0,0],[0.2,0.4,0.6]]"), 0o644); err != nil {
		t.Fatalf("write samples: %v", err)
	}

	out, _, err := runCLI(t, []string{"faces", "enroll", "Alice", "--samples", samples}, env.configPath)
	if err != nil {
		t.Fatalf("faces enroll: %v", err)
	}
	requireContains(t, out, "Enrolled Alice from 2 sample(s)")

	table, err := faceid.LoadTable(env.cfg.Paths.EnrollmentPath)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	identities := table.Identities()
	if len(identities) != 1 || identities[0].Embedding[1] != 0.2 {
		t.Fatalf("expected averaged embedding, got %+v", identities)
	}

	out, _, err = runCLI(t, []string{"faces", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("faces list: %v", err)
	}
	requireContains(t, out, "Alice")

	if _, _, err := runCLI(t, []string{"faces", "remove", "bob"}, env.configPath); err == nil {
		t.Fatal("expected removing an unknown identity to fail")
	}
	out, _, err = runCLI(t, []string{"faces", "remove", "alice"}, env.configPath)
	if err != nil {
		t.Fatalf("faces remove: %v", err)
	}
	requireContains(t, out, "0 remaining")
}

func TestFacesEnrollFromImages(t *testing.T) {
	env := setupCLITestEnv(t)

	original := newDetector
	t.Cleanup(func() { newDetector = original })
	newDetector = func(*config.Config) (faceid.Detector, error) {
		return stubDetector{faces: map[string][]faceid.Face{
			"one.jpg":   {{Embedding: []float64{1, 1}}},
			"two.jpg":   {{Embedding: []float64{3, 3}}},
			"group.jpg": {{Embedding: []float64{1, 1}}, {Embedding: []float64{2, 2}}},
		}}, nil
	}

	out, _, err := runCLI(t, []string{"faces", "enroll", "bob", "--image", "one.jpg", "--image", "two.jpg"}, env.configPath)
	if err != nil {
		t.Fatalf("faces enroll: %v", err)
	}
	requireContains(t, out, "from 2 sample(s)")
	table, _ := faceid.LoadTable(env.cfg.Paths.EnrollmentPath)
	if got := table.Identities()[0].Embedding; got[0] != 2 || got[1] != 2 {
		t.Fatalf("expected mean [2 2], got %v", got)
	}

	if _, _, err := runCLI(t, []string{"faces", "enroll", "carol", "--image", "group.jpg"}, env.configPath); err == nil {
		t.Fatal("expected a photo with two faces to be rejected")
	}
	if _, _, err := runCLI(t, []string{"faces", "enroll", "dave"}, env.configPath); err == nil {
		t.Fatal("expected enroll without inputs to fail")
	}
}
