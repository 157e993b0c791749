// Package events delivers workflow milestones via pluggable notification sinks.
//
// The default implementation posts ntfy-compatible messages to the webhook
// configured in config.toml and gracefully degrades to a no-op when
// notifications are disabled. Enumerated event types cover phase transitions,
// approval gates, stuck-state detection, and item failures so core components
// can emit consistent messages without duplicating HTTP glue.
//
// Delivery is best-effort by contract: publishers log failures locally and
// never let them block or fail workflow progress.
package events
