package artifact

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"memorycam/internal/logging"
)

// CleanResult contains the outcome of a part-file sweep.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanPartials removes unfinished ".part" files left by an interrupted write.
// Finished artifacts are never touched; they belong to queued jobs.
func (s *Store) CleanPartials(logger *slog.Logger) CleanResult {
	result := CleanResult{}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: s.dir, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), partSuffix) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			logging.WarnWithContext(logger, "failed to remove partial artifact", "artifact_cleanup_failed",
				logging.String(logging.FieldArtifactPath, path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
		if logger != nil {
			logger.Info("removed partial artifact",
				logging.String(logging.FieldArtifactPath, path),
				logging.String(logging.FieldEventType, "artifact_cleanup"),
			)
		}
	}
	return result
}
