// Package storage provides the key-value persistence layer behind the
// orchestrator's durable queues.
//
// Three drivers are available, selected by config:
//
//   - memory: map-backed, state lost on restart (tests, opt-out hosts)
//   - file: single JSON file rewritten atomically on every save
//   - sqlite: a kv table in a SQLite database (modernc.org/sqlite, cgo-free)
//
// The contract is deliberately small: Get returns absent-ness rather than an
// error for missing keys, and Set must be durable by the time it returns.
package storage
