package notify

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the orchestrator.
const (
	EventTaskProgress  = "task.progress"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventQueueDrained  = "queue.drained"
)

// TaskProgress reports the state of a long-running batch task.
type TaskProgress struct {
	TaskID     string    `json:"task_id"`
	TaskType   string    `json:"task_type"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
}

// TaskCompleted reports terminal success.
type TaskCompleted struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
}

// TaskFailed reports terminal failure with the last error message.
type TaskFailed struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// Event is a lightweight, in-memory signal used to decouple the orchestrator
// from whatever renders notifications.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; drop if the subscriber is slow. A subscriber
		// may unsubscribe concurrently and close the channel, so recover from
		// a possible send-on-closed panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
