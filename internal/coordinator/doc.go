// Package coordinator schedules work items into conflict-free dispatch
// waves. Dependencies and target paths partition the batch, a bounded
// resource pool throttles concurrency, and worker outcomes flow back over
// channels so only the coordinator ever mutates shared state.
package coordinator
