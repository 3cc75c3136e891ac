// Package dispatch submits validated actions to the Flow contracts, waits for
// receipts and retries transient failures with a bounded fixed-delay policy.
package dispatch
