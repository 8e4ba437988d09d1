// Package retry provides backoff strategies for failed task attempts.
//
// The orchestrator owns the retry loop itself (failed tasks are re-queued,
// not re-run in place), so this package only supplies the delay policy:
//
//   - Exponential: doubling delays for generic transient failures
//   - Constant: fixed long delays while an external precondition is absent
//
// Wait sleeps for a computed delay but returns early if the context is
// cancelled.
package retry
