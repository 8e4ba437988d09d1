// Package logger provides structured logging built on zerolog.
//
// Components receive a Logger through their constructors so tests can inject
// Nop(); the package-level helpers go through a lazily created global for
// code that has no injection point.
//
// Usage:
//
//	log := logger.GetLogger()
//	log.InfoWithFields("task enqueued", map[string]interface{}{
//	    "task_id":  id,
//	    "priority": "high",
//	})
package logger
