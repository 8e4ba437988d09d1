// Package orchestrator schedules, throttles, and persists asynchronous
// scrape tasks.
//
// Tasks are held in three priority queues (high, medium, low) and executed
// strictly one at a time by a single processing loop: strict priority order
// across tiers, FIFO within a tier. Every status transition is persisted
// through the storage layer, so queues survive a process restart; a task
// interrupted mid-run is recovered as pending.
//
// Failed attempts are retried with backoff. Generic failures get up to 3
// attempts with doubling delays; failures classified as precondition-not-met
// (a required external context is absent) get up to 20 attempts with a fixed
// 30s delay. Both policies are configurable.
//
// The orchestrator emits completion, failure, and throttled progress events
// on a notification bus; delivery is best-effort and never blocks the loop.
package orchestrator
