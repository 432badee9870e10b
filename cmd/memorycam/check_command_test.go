package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"memorycam/internal/testsupport"
)

func TestCheckReportsReachability(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	env := setupCLITestEnv(t, testsupport.WithUploadURL(backend.URL), testsupport.WithCheckURL(backend.URL+"/ping"))

	out, _, err := runCLI(t, []string{"--json", "check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var view checkView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	// A 404 from the probe URL still proves the network is up.
	if !view.Reachable || !view.BackendOK {
		t.Fatalf("unexpected check result %+v", view)
	}
}

func TestCheckReportsBackendDown(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	env := setupCLITestEnv(t, testsupport.WithUploadURL(backend.URL), testsupport.WithCheckURL(backend.URL))

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	requireContains(t, out, "[OK]")
	requireContains(t, out, "[ERROR]")
	requireContains(t, out, "0 pending")
}

func TestCheckIncludesPreflight(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	requireContains(t, out, "Staging directory")
	requireContains(t, out, "read/write ok")
	requireContains(t, out, "Camera")
}
