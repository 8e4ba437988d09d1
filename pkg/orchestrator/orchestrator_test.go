package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liscraper/pkg/config"
	apperrors "liscraper/pkg/errors"
	"liscraper/pkg/logger"
	"liscraper/pkg/notify"
	"liscraper/pkg/retry"
	"liscraper/pkg/storage"
	"liscraper/pkg/task"
)

const testTimeout = 5 * time.Second

// newTestOrchestrator builds an orchestrator with zero-delay backoff so retry
// paths run instantly. Opts with a nil Store get a fresh in-memory one.
func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()

	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Backoff == nil {
		opts.Backoff = &retry.Constant{Delay: 0}
	}
	if opts.PreconditionBackoff == nil {
		opts.PreconditionBackoff = &retry.Constant{Delay: 0}
	}

	o, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func waitForIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return !o.processing && o.current == nil
	}, testTimeout, 5*time.Millisecond, "processing loop did not drain")
}

func TestEnqueueRejectsInvalidSubmissions(t *testing.T) {
	o := newTestOrchestrator(t, Options{})

	_, err := o.Enqueue(Submission{Priority: task.PriorityHigh})
	assert.Error(t, err)

	_, err = o.Enqueue(Submission{Type: task.TypeProfile, Priority: "urgent"})
	assert.Error(t, err)
}

func TestPriorityOrderAcrossTiers(t *testing.T) {
	var mu sync.Mutex
	var order []string

	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		var p struct {
			Label string `json:"label"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return err
		}
		mu.Lock()
		order = append(order, p.Label)
		mu.Unlock()
		return nil
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
	})
	// Keep the loop from starting until everything is enqueued.
	o.PauseAll()

	enqueue := func(label string, p task.Priority) {
		_, err := o.Enqueue(Submission{
			Type:     task.TypeProfile,
			Priority: p,
			Params:   json.RawMessage(`{"label":"` + label + `"}`),
		})
		require.NoError(t, err)
	}

	enqueue("low-1", task.PriorityLow)
	enqueue("medium-1", task.PriorityMedium)
	enqueue("high-1", task.PriorityHigh)
	enqueue("high-2", task.PriorityHigh)
	enqueue("medium-2", task.PriorityMedium)

	o.ResumeAll()
	waitForIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high-1", "high-2", "medium-1", "medium-2", "low-1"}, order)
}

func TestAtMostOneTaskRuns(t *testing.T) {
	var running, maxRunning atomic.Int32

	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
	})

	for i := 0; i < 5; i++ {
		_, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
		require.NoError(t, err)
	}
	waitForIdle(t, o)

	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Equal(t, 5, o.Status().TotalCompleted)
}

func TestGenericFailureRetriesThreeTimes(t *testing.T) {
	var attempts atomic.Int32
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		attempts.Add(1)
		return apperrors.New(apperrors.ErrorTypeNetwork, "connection reset")
	}

	bus := notify.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
		Bus:      bus,
	})

	id, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)
	waitForIdle(t, o)

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 1, o.Status().TotalFailed)

	o.mu.Lock()
	failed := o.queues.Find(id)
	o.mu.Unlock()
	require.NotNil(t, failed)
	assert.Equal(t, task.StatusFailed, failed.Status)
	assert.Equal(t, 3, failed.Retries)
	assert.Contains(t, failed.Error, "connection reset")

	var failures int
	for {
		select {
		case e := <-events:
			if e.Type == notify.EventTaskFailed {
				failures++
				assert.Equal(t, id, e.Data.(notify.TaskFailed).TaskID)
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, failures, "exactly one terminal failure notification")
}

func TestPreconditionFailureUsesExtendedCeiling(t *testing.T) {
	var attempts atomic.Int32
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		attempts.Add(1)
		return apperrors.Precondition("profile page not open")
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
	})

	id, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)
	waitForIdle(t, o)

	assert.Equal(t, int32(20), attempts.Load())

	o.mu.Lock()
	failed := o.queues.Find(id)
	o.mu.Unlock()
	require.NotNil(t, failed)
	assert.Equal(t, task.StatusFailed, failed.Status)
	assert.Equal(t, 20, failed.Retries)
}

func TestPreconditionRecognizedWhenWrapped(t *testing.T) {
	var attempts atomic.Int32
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		n := attempts.Add(1)
		if n < 5 {
			return apperrors.Wrap(apperrors.ErrorTypePrecondition,
				apperrors.Precondition("feed not loaded"), "scrape aborted")
		}
		return nil
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeActivityFeed: handler},
	})

	_, err := o.Enqueue(Submission{Type: task.TypeActivityFeed, Priority: task.PriorityMedium})
	require.NoError(t, err)
	waitForIdle(t, o)

	// Five attempts exceed the generic ceiling of 3; reaching success proves
	// the wrapped error selected the extended policy.
	assert.Equal(t, int32(5), attempts.Load())
	assert.Equal(t, 1, o.Status().TotalCompleted)
}

func TestMissingHandlerFailsWithoutRetry(t *testing.T) {
	o := newTestOrchestrator(t, Options{Handlers: HandlerTable{}})

	id, err := o.Enqueue(Submission{Type: task.TypeCompanyMap, Priority: task.PriorityLow})
	require.NoError(t, err)
	waitForIdle(t, o)

	o.mu.Lock()
	failed := o.queues.Find(id)
	o.mu.Unlock()
	require.NotNil(t, failed)
	assert.Equal(t, task.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Retries)
	assert.Contains(t, failed.Error, "no handler registered")
}

func TestHandlerPanicIsContained(t *testing.T) {
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		panic("selector vanished")
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
	})

	id, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)
	waitForIdle(t, o)

	o.mu.Lock()
	failed := o.queues.Find(id)
	o.mu.Unlock()
	require.NotNil(t, failed)
	assert.Equal(t, task.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "handler panicked")
}

func TestPauseAndResume(t *testing.T) {
	var ran atomic.Int32
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		ran.Add(1)
		return nil
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
	})

	o.PauseAll()
	o.PauseAll() // idempotent
	assert.True(t, o.Status().IsPaused)

	_, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load(), "paused orchestrator must not dequeue")
	assert.Equal(t, 1, o.Status().HighPriority)

	o.ResumeAll()
	waitForIdle(t, o)
	assert.Equal(t, int32(1), ran.Load())
	assert.False(t, o.Status().IsPaused)
}

func TestPauseLetsInFlightTaskFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		close(started)
		<-release
		return nil
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
	})

	_, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)
	<-started

	o.PauseAll()
	close(release)
	waitForIdle(t, o)

	assert.Equal(t, 1, o.Status().TotalCompleted)
	assert.True(t, o.Status().IsPaused)
}

func TestCancelQueuedTask(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	o.PauseAll()

	id, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityMedium})
	require.NoError(t, err)

	assert.True(t, o.Cancel(id))
	assert.False(t, o.Cancel(id), "second cancel finds nothing")
	assert.False(t, o.Cancel("no-such-task"))
	assert.Equal(t, 0, o.Status().MediumPriority)
}

func TestCancelRunningTaskPausesOrchestrator(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		close(started)
		<-release
		return nil
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
	})

	id, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)
	// A second task that must not run after the cancellation pause.
	_, err = o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)
	<-started

	assert.True(t, o.Cancel(id))
	close(release)
	waitForIdle(t, o)

	st := o.Status()
	assert.True(t, st.IsPaused)
	assert.Equal(t, 0, st.TotalCompleted)

	o.mu.Lock()
	cancelled := o.queues.Find(id)
	o.mu.Unlock()
	require.NotNil(t, cancelled)
	assert.Equal(t, task.StatusCancelled, cancelled.Status)
}

func TestClearCompletedPurgesTerminalTasks(t *testing.T) {
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		return nil
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
	})
	o.PauseAll()

	for i := 0; i < 3; i++ {
		_, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityLow})
		require.NoError(t, err)
	}
	id, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityLow})
	require.NoError(t, err)
	require.True(t, o.Cancel(id))

	o.ResumeAll()
	waitForIdle(t, o)

	// The cancelled task left its tier at cancellation time, so only the
	// three completed records remain.
	o.mu.Lock()
	gone := o.queues.Find(id)
	o.mu.Unlock()
	assert.Nil(t, gone, "cancelled queued task must not linger in its tier")

	assert.Equal(t, 3, o.Status().LowPriority)
	assert.Equal(t, 3, o.ClearCompleted())
	assert.Equal(t, 0, o.Status().LowPriority)
	assert.Equal(t, 0, o.ClearCompleted())
}

func TestStateSurvivesRestart(t *testing.T) {
	store := storage.NewMemory()

	first := newTestOrchestrator(t, Options{Store: store})
	first.PauseAll()

	var ids []string
	for _, p := range []task.Priority{task.PriorityHigh, task.PriorityMedium, task.PriorityLow} {
		id, err := first.Enqueue(Submission{Type: task.TypeProfile, Priority: p})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	first.Close()

	second := newTestOrchestrator(t, Options{Store: store})
	st := second.Status()
	assert.Equal(t, 1, st.HighPriority)
	assert.Equal(t, 1, st.MediumPriority)
	assert.Equal(t, 1, st.LowPriority)
	assert.True(t, st.IsPaused, "paused flag survives restart")

	second.mu.Lock()
	for _, id := range ids {
		restored := second.queues.Find(id)
		require.NotNil(t, restored, "task %s missing after restore", id)
		assert.Equal(t, task.StatusPending, restored.Status)
	}
	second.mu.Unlock()
}

func TestCountersSurviveRestart(t *testing.T) {
	store := storage.NewMemory()

	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		return nil
	}
	first := newTestOrchestrator(t, Options{
		Store:    store,
		Handlers: HandlerTable{task.TypeProfile: handler},
	})
	_, err := first.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)
	waitForIdle(t, first)
	first.Close()

	second := newTestOrchestrator(t, Options{Store: store})
	assert.Equal(t, 1, second.Status().TotalCompleted)
}

func TestInterruptedTaskRecoveredFirst(t *testing.T) {
	store := storage.NewMemory()

	// Simulate a crash mid-run: persist state with a running current task.
	interrupted := &task.Task{
		ID:        "interrupted",
		Type:      task.TypeProfile,
		Priority:  task.PriorityHigh,
		Status:    task.StatusRunning,
		CreatedAt: time.Now(),
	}
	queued := &task.Task{
		ID:        "queued",
		Type:      task.TypeProfile,
		Priority:  task.PriorityHigh,
		Status:    task.StatusPending,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(persistedState{
		HighQueue:   []*task.Task{queued},
		CurrentTask: interrupted,
		IsPaused:    true,
	})
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), queueStateKey, raw))

	o := newTestOrchestrator(t, Options{Store: store})

	o.mu.Lock()
	defer o.mu.Unlock()
	require.Len(t, o.queues.High, 2)
	assert.Equal(t, "interrupted", o.queues.High[0].ID, "interrupted task runs before queued work")
	assert.Equal(t, task.StatusPending, o.queues.High[0].Status)
}

func TestCompletionEventsInPriorityOrder(t *testing.T) {
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		return nil
	}

	bus := notify.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
		Bus:      bus,
	})
	o.PauseAll()

	lowID, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityLow})
	require.NoError(t, err)
	highID, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)

	o.ResumeAll()
	waitForIdle(t, o)

	var completed []string
	for len(completed) < 2 {
		select {
		case e := <-events:
			if e.Type == notify.EventTaskCompleted {
				completed = append(completed, e.Data.(notify.TaskCompleted).TaskID)
			}
		case <-time.After(testTimeout):
			t.Fatal("timed out waiting for completion events")
		}
	}
	assert.Equal(t, []string{highID, lowID}, completed)
}

func TestProgressNotificationsThrottled(t *testing.T) {
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		for i := 1; i <= 10; i++ {
			report(i, 10, "scraping profile batch")
		}
		return nil
	}

	bus := notify.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	o := newTestOrchestrator(t, Options{
		Config:   config.OrchestratorConfig{ProgressInterval: time.Hour},
		Handlers: HandlerTable{task.TypeBatchProfile: handler},
		Bus:      bus,
	})

	id, err := o.Enqueue(Submission{Type: task.TypeBatchProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)
	waitForIdle(t, o)

	var progress []notify.TaskProgress
	for {
		select {
		case e := <-events:
			if e.Type == notify.EventTaskProgress {
				progress = append(progress, e.Data.(notify.TaskProgress))
			}
			continue
		default:
		}
		break
	}

	require.Len(t, progress, 1, "only the first report within the window notifies")
	assert.Equal(t, id, progress[0].TaskID)
	assert.Equal(t, 1, progress[0].Current)
	assert.Equal(t, 10, progress[0].Total)

	// The task record itself still carries the latest report.
	o.mu.Lock()
	done := o.queues.Find(id)
	o.mu.Unlock()
	require.NotNil(t, done)
	require.NotNil(t, done.Progress)
	assert.Equal(t, 10, done.Progress.Current)
}

func TestStatusSnapshotIsDetached(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	handler := func(ctx context.Context, params json.RawMessage, report ProgressFunc) error {
		close(started)
		<-release
		return nil
	}

	o := newTestOrchestrator(t, Options{
		Handlers: HandlerTable{task.TypeProfile: handler},
	})

	_, err := o.Enqueue(Submission{Type: task.TypeProfile, Priority: task.PriorityHigh})
	require.NoError(t, err)
	<-started

	st := o.Status()
	require.NotNil(t, st.CurrentTask)
	st.CurrentTask.Status = task.StatusFailed // must not leak into the orchestrator

	close(release)
	waitForIdle(t, o)
	assert.Equal(t, 1, o.Status().TotalCompleted)
}
