package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"liscraper/pkg/config"
	"liscraper/pkg/logger"
	"liscraper/pkg/notify"
	"liscraper/pkg/retry"
	"liscraper/pkg/storage"
	"liscraper/pkg/task"
)

// ErrNoHandler is returned when a task's type has no registered handler.
// Such tasks fail terminally; retrying cannot make a handler appear.
var ErrNoHandler = errors.New("no handler registered for task type")

// ProgressFunc lets long-running batch handlers report sub-step progress.
type ProgressFunc func(current, total int, statusText string)

// Handler executes one task type. params is the task's opaque payload. A
// returned error marks the attempt failed; wrap it in a precondition error
// (pkg/errors) to request the patient retry policy.
type Handler func(ctx context.Context, params json.RawMessage, report ProgressFunc) error

// HandlerTable maps task types to their handlers.
type HandlerTable map[task.Type]Handler

// Submission is a task as supplied by a trigger, before the orchestrator
// assigns system fields.
type Submission struct {
	Type     task.Type
	Priority task.Priority
	Params   json.RawMessage
}

// Status is a point-in-time snapshot of orchestrator state.
type Status struct {
	HighPriority   int        `json:"high_priority"`
	MediumPriority int        `json:"medium_priority"`
	LowPriority    int        `json:"low_priority"`
	CurrentTask    *task.Task `json:"current_task,omitempty"`
	IsPaused       bool       `json:"is_paused"`
	TotalCompleted int        `json:"total_completed"`
	TotalFailed    int        `json:"total_failed"`
}

// Options configures a new Orchestrator. Store and Handlers are required
// for useful operation; everything else has defaults.
type Options struct {
	Config   config.OrchestratorConfig
	Handlers HandlerTable
	Store    storage.Store
	Bus      notify.Bus
	Logger   logger.Logger

	// Backoff overrides the delay policy for generic failures.
	// Defaults to doubling backoff starting at 1s.
	Backoff retry.Strategy

	// PreconditionBackoff overrides the delay policy for precondition
	// failures. Defaults to a fixed delay of Config.PreconditionBackoff.
	PreconditionBackoff retry.Strategy
}

// Orchestrator owns the three priority queues and runs at most one task at
// a time. All queue mutations and persistence happen under a single mutex,
// so the persisted state always reflects a consistent queue snapshot.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	handlers HandlerTable
	store    storage.Store
	bus      notify.Bus
	log      logger.Logger

	backoff        retry.Strategy
	precondBackoff retry.Strategy

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	queues         *task.QueueSet
	current        *task.Task
	paused         bool
	processing     bool
	totalCompleted int
	totalFailed    int
	lastProgress   map[string]time.Time
}

// New constructs an orchestrator and restores any persisted queue state
// before the processing loop is allowed to run. It does not start the loop;
// call Start (or Enqueue) once handlers and triggers are wired.
func New(opts Options) (*Orchestrator, error) {
	cfg := opts.Config
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.PreconditionMaxRetries <= 0 {
		cfg.PreconditionMaxRetries = 20
	}
	if cfg.PreconditionBackoff <= 0 {
		cfg.PreconditionBackoff = 30 * time.Second
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 5 * time.Second
	}

	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultExponential()
	}
	if opts.PreconditionBackoff == nil {
		opts.PreconditionBackoff = &retry.Constant{Delay: cfg.PreconditionBackoff}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:            cfg,
		handlers:       opts.Handlers,
		store:          opts.Store,
		bus:            opts.Bus,
		log:            opts.Logger,
		backoff:        opts.Backoff,
		precondBackoff: opts.PreconditionBackoff,
		runCtx:         ctx,
		cancel:         cancel,
		queues:         task.NewQueueSet(),
		lastProgress:   make(map[string]time.Time),
	}

	if err := o.restore(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to restore orchestrator state: %w", err)
	}
	return o, nil
}

// Enqueue assigns system fields to the submission, persists the queue, and
// starts the processing loop if it is idle and not paused. It never blocks
// on task execution.
func (o *Orchestrator) Enqueue(sub Submission) (string, error) {
	if sub.Type == "" {
		return "", errors.New("task type is required")
	}
	if !sub.Priority.Valid() {
		return "", fmt.Errorf("invalid priority %q", sub.Priority)
	}

	t := &task.Task{
		ID:        uuid.NewString(),
		Type:      sub.Type,
		Priority:  sub.Priority,
		Params:    sub.Params,
		Status:    task.StatusPending,
		CreatedAt: time.Now(),
	}

	o.mu.Lock()
	o.queues.Push(t)
	o.persistStateLocked()
	o.mu.Unlock()

	o.log.InfoWithFields("Task enqueued", map[string]interface{}{
		"task_id":   t.ID,
		"task_type": string(t.Type),
		"priority":  string(t.Priority),
	})

	o.kick()
	return t.ID, nil
}

// Start launches the processing loop if pending tasks exist and the
// orchestrator is not paused. Safe to call at any time.
func (o *Orchestrator) Start() {
	o.kick()
}

// PauseAll stops the loop from dequeuing further tasks. The in-flight task,
// if any, runs to completion; pausing is a best-effort signal checked
// between loop iterations. Idempotent.
func (o *Orchestrator) PauseAll() {
	o.mu.Lock()
	o.paused = true
	o.persistStateLocked()
	o.mu.Unlock()

	o.log.Info("Task processing paused")
}

// ResumeAll clears the paused flag and restarts the loop if pending tasks
// exist.
func (o *Orchestrator) ResumeAll() {
	o.mu.Lock()
	o.paused = false
	o.persistStateLocked()
	o.mu.Unlock()

	o.log.Info("Task processing resumed")
	o.kick()
}

// Cancel cancels the task with the given id. If it is currently running the
// orchestrator flips to paused and the task is marked cancelled once its
// handler returns; a queued task is removed from its tier outright. Returns
// whether a task was found and acted upon.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()

	if o.current != nil && o.current.ID == id {
		o.paused = true
		o.current.Status = task.StatusCancelled
		o.persistStateLocked()
		o.mu.Unlock()

		o.log.WarnWithFields("Cancelling running task, orchestrator paused", map[string]interface{}{
			"task_id": id,
		})
		return true
	}

	if t := o.queues.Remove(id); t != nil {
		t.Status = task.StatusCancelled
		delete(o.lastProgress, id)
		o.persistStateLocked()
		o.mu.Unlock()

		o.log.InfoWithFields("Queued task cancelled", map[string]interface{}{
			"task_id": id,
		})
		return true
	}

	o.mu.Unlock()
	return false
}

// Status returns a snapshot of queue lengths, the current task, the paused
// flag, and lifetime counters.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	high, medium, low := o.queues.Counts()
	return Status{
		HighPriority:   high,
		MediumPriority: medium,
		LowPriority:    low,
		CurrentTask:    o.current.Clone(),
		IsPaused:       o.paused,
		TotalCompleted: o.totalCompleted,
		TotalFailed:    o.totalFailed,
	}
}

// ClearCompleted removes all terminal tasks from the queues and returns how
// many were removed.
func (o *Orchestrator) ClearCompleted() int {
	o.mu.Lock()
	removed := o.queues.PurgeTerminal()
	o.persistStateLocked()
	o.mu.Unlock()

	o.log.InfoWithFields("Cleared terminal tasks", map[string]interface{}{
		"removed": removed,
	})
	return removed
}

// Close stops the processing loop and waits for the in-flight task, if any,
// to finish. The orchestrator cannot be reused afterwards.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// kick starts the processing loop unless it is already running, paused, or
// has nothing to do.
func (o *Orchestrator) kick() {
	o.mu.Lock()
	if o.processing || o.paused || o.runCtx.Err() != nil || o.queues.NextPending() == nil {
		o.mu.Unlock()
		return
	}
	o.processing = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run()
}

// publish sends an event on the bus, if one is attached. Fire and forget.
func (o *Orchestrator) publish(e notify.Event) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(e)
}
