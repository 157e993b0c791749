// Package logging provides slog-based structured logging helpers shared by
// the daemon, coordinator, and CLI.
//
// It standardizes field names (component, item_id, phase, wave), derives
// attributes from context values stamped by the services package, and builds
// console or JSON handlers from configuration.
package logging
