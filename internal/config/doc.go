// Package config loads, normalizes, and validates Conductor configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and merges default phase sequences for
// workflow types the file does not mention. The Config type centralizes every
// knob the daemon and CLI need: state directories, phase sequences, detector
// thresholds, checkpoint cadence, resource pool capacity, and retry policy.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
