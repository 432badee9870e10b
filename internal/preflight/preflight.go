package preflight

import (
	"context"

	"memorycam/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes the filesystem checks that apply to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Queue directory", cfg.Paths.QueueDir),
		CheckFreeSpace("Staging free space", cfg.Paths.StagingDir, cfg.Artifact.MinFreeMB),
	}
	if cfg.Face.Enabled {
		results = append(results, CheckEnrollment(cfg.Paths.EnrollmentPath))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
