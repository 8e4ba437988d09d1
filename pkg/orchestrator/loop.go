package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "liscraper/pkg/errors"
	"liscraper/pkg/notify"
	"liscraper/pkg/retry"
	"liscraper/pkg/task"
)

// run is the single processing loop. At most one instance exists at a time,
// guarded by the processing flag, which keeps the at-most-one-running-task
// invariant by construction.
func (o *Orchestrator) run() {
	defer o.wg.Done()

	for {
		o.mu.Lock()
		if o.paused || o.runCtx.Err() != nil {
			o.processing = false
			o.mu.Unlock()
			return
		}

		next := o.queues.NextPending()
		if next == nil {
			o.processing = false
			o.mu.Unlock()
			o.publish(notify.Event{Type: notify.EventQueueDrained})
			o.log.Debug("Queues drained, processing loop idle")
			return
		}

		o.queues.Remove(next.ID)
		next.Status = task.StatusRunning
		o.current = next
		o.persistStateLocked()
		handler := o.handlers[next.Type]
		o.mu.Unlock()

		o.log.InfoWithFields("Task started", map[string]interface{}{
			"task_id":   next.ID,
			"task_type": string(next.Type),
			"retries":   next.Retries,
		})

		err := o.dispatch(next, handler)

		delay := o.settle(next, err)
		if delay > 0 {
			if werr := retry.Wait(o.runCtx, delay); werr != nil {
				o.mu.Lock()
				o.processing = false
				o.mu.Unlock()
				return
			}
		}
	}
}

// dispatch invokes the handler for a task, bounding it with the configured
// timeout and containing panics. A handler that never returns would stall
// the whole loop, so the timeout default is deliberately generous but set.
func (o *Orchestrator) dispatch(t *task.Task, handler Handler) (err error) {
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, t.Type)
	}

	ctx := o.runCtx
	if o.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(o.runCtx, o.cfg.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, t.Params, o.progressReporter(t))
}

// settle applies the outcome of an attempt: terminal success, requeue with
// backoff, or terminal failure. It returns the backoff delay to wait before
// the next loop iteration (0 when none is needed).
func (o *Orchestrator) settle(t *task.Task, err error) time.Duration {
	o.mu.Lock()

	// Cancelled mid-flight: Cancel() already marked the task and paused the
	// orchestrator. Keep the terminal record queued until purged.
	if t.Status == task.StatusCancelled {
		o.queues.Push(t)
		o.current = nil
		delete(o.lastProgress, t.ID)
		o.persistStateLocked()
		o.mu.Unlock()

		o.log.InfoWithFields("Task cancelled mid-run", map[string]interface{}{
			"task_id": t.ID,
		})
		return 0
	}

	if err == nil {
		t.Status = task.StatusCompleted
		t.Error = ""
		o.totalCompleted++
		o.queues.Push(t)
		o.current = nil
		delete(o.lastProgress, t.ID)
		o.persistStateLocked()
		o.persistStatsLocked()
		o.mu.Unlock()

		o.log.InfoWithFields("Task completed", map[string]interface{}{
			"task_id":   t.ID,
			"task_type": string(t.Type),
		})
		o.publish(notify.Event{
			Type: notify.EventTaskCompleted,
			Data: notify.TaskCompleted{TaskID: t.ID, TaskType: string(t.Type)},
		})
		return 0
	}

	t.Error = err.Error()
	t.Retries++

	precondition := apperrors.IsPrecondition(err)
	ceiling := o.cfg.MaxRetries
	strategy := o.backoff
	if precondition {
		ceiling = o.cfg.PreconditionMaxRetries
		strategy = o.precondBackoff
	}

	if !errors.Is(err, ErrNoHandler) && t.Retries < ceiling {
		// Retried tasks re-enter at the back of their tier so they cannot
		// starve fresh submissions.
		t.Status = task.StatusPending
		o.queues.Push(t)
		o.current = nil
		o.persistStateLocked()
		o.mu.Unlock()

		delay := strategy.NextDelay(t.Retries)
		fields := map[string]interface{}{
			"task_id":    t.ID,
			"retries":    t.Retries,
			"ceiling":    ceiling,
			"backoff_ms": delay.Milliseconds(),
			"error":      err.Error(),
		}
		// Precondition waits are expected while the external context is
		// absent, so they log quieter than generic failures.
		if precondition {
			o.log.DebugWithFields("Task waiting for precondition, requeued", fields)
		} else {
			o.log.WarnWithFields("Task failed, requeued for retry", fields)
		}
		return delay
	}

	t.Status = task.StatusFailed
	o.totalFailed++
	o.queues.Push(t)
	o.current = nil
	delete(o.lastProgress, t.ID)
	o.persistStateLocked()
	o.persistStatsLocked()
	o.mu.Unlock()

	o.log.ErrorWithFields("Task failed terminally", map[string]interface{}{
		"task_id":   t.ID,
		"task_type": string(t.Type),
		"retries":   t.Retries,
		"error":     err.Error(),
	})
	o.publish(notify.Event{
		Type: notify.EventTaskFailed,
		Data: notify.TaskFailed{TaskID: t.ID, Error: err.Error()},
	})
	return 0
}

// progressReporter returns the callback handed to a task's handler. Updates
// always land on the task record, but notifications are throttled to one
// per ProgressInterval window per task.
func (o *Orchestrator) progressReporter(t *task.Task) ProgressFunc {
	return func(current, total int, statusText string) {
		now := time.Now()

		o.mu.Lock()
		// Ignore reports from a handler that outlived its task.
		if o.current == nil || o.current.ID != t.ID {
			o.mu.Unlock()
			return
		}

		if t.Progress == nil {
			t.Progress = &task.Progress{}
		}
		t.Progress.Current = current
		t.Progress.Total = total
		t.Progress.StatusText = statusText

		last, seen := o.lastProgress[t.ID]
		emit := !seen || now.Sub(last) >= o.cfg.ProgressInterval
		if emit {
			o.lastProgress[t.ID] = now
			t.Progress.LastUpdate = now
			o.persistStateLocked()
		}
		o.mu.Unlock()

		if emit {
			o.publish(notify.Event{
				Type: notify.EventTaskProgress,
				Data: notify.TaskProgress{
					TaskID:     t.ID,
					TaskType:   string(t.Type),
					Current:    current,
					Total:      total,
					Status:     statusText,
					LastUpdate: now,
				},
			})
		}
	}
}
