// Package scrape implements the page fetch layer and the task handlers the
// orchestrator dispatches to.
//
// All outbound requests go through the rate-limit throttle, so handlers never
// talk to the network directly. Fetched pages are archived as raw snapshots
// for later parsing; the archive doubles as a dedupe index so batch scrapes
// can resume without re-fetching pages they already hold.
package scrape
