// Package daemon assembles the conductor services into a single-instance
// background process: the workflow controller, the wave coordinator, the
// stuck-state detector, and the checkpoint manager, guarded by a file lock.
package daemon
