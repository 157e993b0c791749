// Package checkpoint persists durable snapshots of workflow state. Writes
// are atomic with read-back verification, retention keeps a bounded window of
// recent snapshots, and a scheduler drives time and progress based triggers.
package checkpoint
