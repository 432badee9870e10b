// Package preflight provides readiness checks for the filesystem paths and
// external tools memorycam depends on.
//
// The daemon logs RunAll and CheckSystemDeps at startup; the CLI "check"
// command prints them. Checks for disabled features are skipped.
package preflight
