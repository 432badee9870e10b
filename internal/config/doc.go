// Package config loads, normalizes, and validates memorycam configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MEMORYCAM_UPLOAD_URL. The Config type centralizes every knob the capture
// daemon and CLI need so the staging directory, queue location, device
// commands, and upload endpoint are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
