// Package retry classifies work item failures and applies per-class recovery
// policy.
//
// Transient failures retry immediately once, then with exponential backoff up
// to a configured attempt ceiling. Permission failures retry after a longer
// fixed delay with a lower ceiling. Permanent failures (validation errors,
// traversal attempts, disk full) go straight to manual review. Exhausting any
// ceiling also routes to manual review, and the workflow carries on with its
// remaining items either way.
//
// Every decision is written to the append-only audit trail in the queue store.
package retry
