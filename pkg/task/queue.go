package task

// QueueSet holds the three priority queues. It is not safe for concurrent
// use; the orchestrator guards it with its own mutex.
//
// Queue order within a tier is FIFO among pending tasks. Terminal tasks stay
// in their tier until explicitly purged, so completed work remains queryable.
type QueueSet struct {
	High   []*Task `json:"high"`
	Medium []*Task `json:"medium"`
	Low    []*Task `json:"low"`
}

// NewQueueSet returns an empty queue set
func NewQueueSet() *QueueSet {
	return &QueueSet{}
}

// tier returns a pointer to the slice backing the given priority
func (q *QueueSet) tier(p Priority) *[]*Task {
	switch p {
	case PriorityHigh:
		return &q.High
	case PriorityMedium:
		return &q.Medium
	default:
		return &q.Low
	}
}

// Push appends a task to the back of its priority tier
func (q *QueueSet) Push(t *Task) {
	tier := q.tier(t.Priority)
	*tier = append(*tier, t)
}

// PushFront prepends a task to its priority tier. Used when restoring a
// task that was interrupted mid-run, so it executes before fresh work in
// the same tier.
func (q *QueueSet) PushFront(t *Task) {
	tier := q.tier(t.Priority)
	*tier = append([]*Task{t}, *tier...)
}

// NextPending returns the next pending task in strict priority order
// (high, then medium, then low), FIFO within a tier. Returns nil if no
// pending task exists. The task is not removed.
func (q *QueueSet) NextPending() *Task {
	for _, tier := range [][]*Task{q.High, q.Medium, q.Low} {
		for _, t := range tier {
			if t.Status == StatusPending {
				return t
			}
		}
	}
	return nil
}

// Remove removes the task with the given id from whichever tier holds it
// and returns it, or nil if no tier holds it.
func (q *QueueSet) Remove(id string) *Task {
	for _, tier := range []*[]*Task{&q.High, &q.Medium, &q.Low} {
		for i, t := range *tier {
			if t.ID == id {
				*tier = append((*tier)[:i], (*tier)[i+1:]...)
				return t
			}
		}
	}
	return nil
}

// Find returns the task with the given id, or nil
func (q *QueueSet) Find(id string) *Task {
	for _, tier := range [][]*Task{q.High, q.Medium, q.Low} {
		for _, t := range tier {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

// PurgeTerminal removes all tasks in terminal states from every tier and
// returns how many were removed.
func (q *QueueSet) PurgeTerminal() int {
	removed := 0
	for _, tier := range []*[]*Task{&q.High, &q.Medium, &q.Low} {
		kept := (*tier)[:0]
		for _, t := range *tier {
			if t.Status.Terminal() {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		*tier = kept
	}
	return removed
}

// Counts returns the number of tasks held per tier
func (q *QueueSet) Counts() (high, medium, low int) {
	return len(q.High), len(q.Medium), len(q.Low)
}

// PendingCount returns the number of pending tasks across all tiers
func (q *QueueSet) PendingCount() int {
	n := 0
	for _, tier := range [][]*Task{q.High, q.Medium, q.Low} {
		for _, t := range tier {
			if t.Status == StatusPending {
				n++
			}
		}
	}
	return n
}

// Clone returns a deep copy of the queue set
func (q *QueueSet) Clone() *QueueSet {
	c := NewQueueSet()
	for _, t := range q.High {
		c.High = append(c.High, t.Clone())
	}
	for _, t := range q.Medium {
		c.Medium = append(c.Medium, t.Clone())
	}
	for _, t := range q.Low {
		c.Low = append(c.Low, t.Clone())
	}
	return c
}
