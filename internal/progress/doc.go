// Package progress tracks per-item stage advancement and aggregate workflow
// completion.
//
// Aggregate percentage is the sum of per-item stage weights over the maximum
// possible weight, so partially finished items contribute proportionally.
// Per-item stage sequences are monotonic: the tracker rejects regressions
// except the explicit failure and manual-review transitions.
package progress
