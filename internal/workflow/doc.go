// Package workflow implements the phase-based state machine driving a
// conductor workflow. The Controller owns all state mutation, persists every
// transition atomically, and enforces phase ordering, item completion, and
// approval gates. A companion Detector reports stalls without touching state.
package workflow
