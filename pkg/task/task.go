package task

import (
	"encoding/json"
	"time"
)

// Type selects the dispatch handler for a task
type Type string

const (
	TypeConnectionList Type = "connection-list"
	TypeProfile        Type = "single-profile"
	TypeActivityFeed   Type = "activity-feed"
	TypeCompanyMap     Type = "company-map"
	TypeBatchProfile   Type = "batch-profile"
)

// Priority determines which queue holds a task. Immutable after creation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the three known tiers
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Status is a task's lifecycle state
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state. Pending is the only
// re-enterable state (via retry).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress tracks the state of a long-running batch task
type Progress struct {
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	StatusText string    `json:"status_text,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

// Task is a unit of schedulable, retryable background work.
//
// ID, Type, Priority and CreatedAt are immutable after submission. Params is
// an opaque type-specific payload interpreted only by the matching handler.
type Task struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Priority  Priority        `json:"priority"`
	Params    json.RawMessage `json:"params,omitempty"`
	Status    Status          `json:"status"`
	Retries   int             `json:"retries"`
	Error     string          `json:"error,omitempty"`
	Progress  *Progress       `json:"progress,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Clone returns a deep copy, so snapshots handed to callers cannot race with
// the orchestrator mutating the original.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Params != nil {
		c.Params = append(json.RawMessage(nil), t.Params...)
	}
	if t.Progress != nil {
		p := *t.Progress
		c.Progress = &p
	}
	return &c
}
