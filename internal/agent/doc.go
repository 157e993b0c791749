// Package agent bridges the coordinator's worker contract to an external
// command. Conductor does not care how the agent produces its output; it only
// consumes progress lines and an exit status.
package agent
