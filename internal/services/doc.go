// Package services defines shared utilities consumed by the coordinator and
// worker implementations.
//
// Key responsibilities:
//   - Context helpers that stamp work item IDs, phase names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate worker
//     failures into consistent retry classes (transient, permission,
//     permanent).
//
// Use these helpers when wiring new worker logic so operational behaviour
// (error handling, observability, retries) stays uniform across phases.
package services
