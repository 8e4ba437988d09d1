// Package ratelimit serializes asynchronous operations under an hourly
// quota with randomized inter-operation spacing.
//
// Scrape handlers funnel their page requests through a shared Throttle so
// that automated traffic stays below the target site's tolerance and does
// not arrive in bot-like bursts. Operations run strictly one at a time in
// submission order; when the hourly quota is exhausted the loop sleeps
// until the window rolls over.
//
// Usage:
//
//	throttle := ratelimit.New(ratelimit.Config{
//	    MaxRequestsPerHour: 100,
//	    MinDelay:           5 * time.Second,
//	    MaxDelay:           15 * time.Second,
//	})
//
//	body, err := throttle.Do(ctx, func() (interface{}, error) {
//	    return fetchPage(url)
//	})
//
// Queued operations are held only in memory; they do not survive a process
// restart. Durability lives a level up, in the task orchestrator, whose
// persisted tasks re-submit their operations after a restart.
package ratelimit
