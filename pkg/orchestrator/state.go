package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"liscraper/pkg/task"
)

// Fixed persistence keys. A missing key implies empty/default state.
const (
	queueStateKey = "scrape_queue_state"
	statsKey      = "scrape_stats"
)

// persistedState is the durable snapshot of the queues.
type persistedState struct {
	HighQueue   []*task.Task `json:"high_queue"`
	MediumQueue []*task.Task `json:"medium_queue"`
	LowQueue    []*task.Task `json:"low_queue"`
	CurrentTask *task.Task   `json:"current_task,omitempty"`
	IsPaused    bool         `json:"is_paused"`
}

// persistedStats holds the lifetime counters.
type persistedStats struct {
	TotalCompleted int `json:"total_completed"`
	TotalFailed    int `json:"total_failed"`
}

// persistStateLocked saves the queue snapshot. Persistence failures are
// logged, not fatal: in-memory state stays authoritative for this process
// lifetime, it just will not survive a restart. Caller holds o.mu.
func (o *Orchestrator) persistStateLocked() {
	state := persistedState{
		HighQueue:   o.queues.High,
		MediumQueue: o.queues.Medium,
		LowQueue:    o.queues.Low,
		CurrentTask: o.current,
		IsPaused:    o.paused,
	}

	raw, err := json.Marshal(state)
	if err != nil {
		o.log.WithError(err).Error("Failed to encode queue state")
		return
	}
	if err := o.store.Set(context.Background(), queueStateKey, raw); err != nil {
		o.log.WithError(err).Error("Failed to persist queue state")
	}
}

// persistStatsLocked saves the lifetime counters. Caller holds o.mu.
func (o *Orchestrator) persistStatsLocked() {
	raw, err := json.Marshal(persistedStats{
		TotalCompleted: o.totalCompleted,
		TotalFailed:    o.totalFailed,
	})
	if err != nil {
		o.log.WithError(err).Error("Failed to encode stats")
		return
	}
	if err := o.store.Set(context.Background(), statsKey, raw); err != nil {
		o.log.WithError(err).Error("Failed to persist stats")
	}
}

// restore rebuilds in-memory state from the store. Called once from New,
// before the processing loop can run.
func (o *Orchestrator) restore() error {
	ctx := context.Background()

	raw, ok, err := o.store.Get(ctx, queueStateKey)
	if err != nil {
		return fmt.Errorf("failed to read queue state: %w", err)
	}
	if ok {
		var state persistedState
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("failed to decode queue state: %w", err)
		}

		o.queues.High = state.HighQueue
		o.queues.Medium = state.MediumQueue
		o.queues.Low = state.LowQueue
		o.paused = state.IsPaused

		// Normalize: nothing can legitimately be running at startup.
		for _, tier := range [][]*task.Task{o.queues.High, o.queues.Medium, o.queues.Low} {
			for _, t := range tier {
				if t.Status == task.StatusRunning {
					t.Status = task.StatusPending
				}
			}
		}

		// A persisted current task means the previous process died mid-run.
		// Requeue it at the front of its tier so it is retried first.
		if cur := state.CurrentTask; cur != nil && !cur.Status.Terminal() {
			cur.Status = task.StatusPending
			o.queues.PushFront(cur)
			o.log.WarnWithFields("Recovered task interrupted by restart", map[string]interface{}{
				"task_id":   cur.ID,
				"task_type": string(cur.Type),
			})
		}
	}

	raw, ok, err = o.store.Get(ctx, statsKey)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	if ok {
		var stats persistedStats
		if err := json.Unmarshal(raw, &stats); err != nil {
			return fmt.Errorf("failed to decode stats: %w", err)
		}
		o.totalCompleted = stats.TotalCompleted
		o.totalFailed = stats.TotalFailed
	}

	high, medium, low := o.queues.Counts()
	o.log.InfoWithFields("Orchestrator state restored", map[string]interface{}{
		"high":      high,
		"medium":    medium,
		"low":       low,
		"is_paused": o.paused,
	})
	return nil
}
