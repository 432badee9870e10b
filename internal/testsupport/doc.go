// Package testsupport holds shared helpers for package tests: temp-dir
// configs, opened queue stores, and staged artifact files.
package testsupport
