// Package logging assembles structured slog loggers and formatting helpers used
// across memorycam components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so producers and the upload
// worker tag log lines with job IDs and artifact kinds. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
