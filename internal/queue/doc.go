// Package queue persists work items and the recovery audit trail in SQLite.
//
// Work items move through a six-stage lifecycle (queued, validating,
// creating, writing, verifying, completed) with failed and manual-review as
// failure stages. The store validates every stage transition against the
// no-regression rule before writing, validates target paths against the
// configured allow-list on insert, and tracks per-item heartbeats so stale
// in-flight items can be reclaimed after a crash.
//
// The audit_log table is append-only and records every retry classification
// decision and resulting stage transition for later inspection.
package queue
